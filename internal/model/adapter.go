package model

import (
	"errors"
	"fmt"
)

// ErrShapeAdaptation is returned when a model cannot be rebuilt with an
// explicit input shape.
var ErrShapeAdaptation = errors.New("shape adaptation failed")

// EnsureInputShape returns a compiled copy of m whose first layer declares the
// input [null, inputShape...]. Only the first layer is reconstructed, from a
// clone of its configuration, and it keeps its learned weights. Every other
// layer is carried over as the same instance and in the same order.
func EnsureInputShape(m *Sequential, inputShape []int) (*Sequential, error) {
	if m == nil || m.Len() == 0 {
		return nil, fmt.Errorf("%w: %w", ErrShapeAdaptation, ErrNoLayers)
	}
	for i, layer := range m.layers {
		if !LayerRegistered(layer.ClassName()) {
			return nil, fmt.Errorf("%w: layer %d: %w: %q", ErrShapeAdaptation, i, ErrUnknownLayer, layer.ClassName())
		}
	}

	first := m.layers[0]
	config := first.Config()
	config.SetBatchInputShape(BatchShape(inputShape...))

	rebuilt, err := NewLayer(first.ClassName(), config)
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild layer 0: %w", ErrShapeAdaptation, err)
	}
	if ws := first.Weights(); len(ws) > 0 {
		if err := rebuilt.SetWeights(ws); err != nil {
			return nil, fmt.Errorf("%w: transfer weights: %w", ErrShapeAdaptation, err)
		}
	}

	out := NewSequential(m.name)
	if err := out.Add(rebuilt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeAdaptation, err)
	}
	for _, layer := range m.layers[1:] {
		if err := out.Add(layer); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShapeAdaptation, err)
		}
	}

	if err := out.Compile(DefaultCompileOptions()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeAdaptation, err)
	}
	return out, nil
}
