// Package model is a small inference runtime for sequential classifiers
// exported in the TensorFlow.js layers format.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/mudra/internal/tensor"
)

var (
	// ErrInputShape is returned when a model's input shape is missing or does
	// not match what the caller requires.
	ErrInputShape = errors.New("input shape mismatch")
	// ErrNotCompiled is returned by Predict before Compile succeeds.
	ErrNotCompiled = errors.New("model not compiled")
	// ErrNoLayers is returned when compiling an empty model.
	ErrNoLayers = errors.New("model has no layers")
)

// CompileOptions names the training configuration a model is finalised with.
// Inference ignores it.
type CompileOptions struct {
	Optimizer string
	Loss      string
	Metrics   []string
}

// DefaultCompileOptions returns adam / categoricalCrossentropy / accuracy.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		Optimizer: "adam",
		Loss:      "categoricalCrossentropy",
		Metrics:   []string{"accuracy"},
	}
}

var (
	knownOptimizers = map[string]bool{
		"adam": true, "adamax": true, "sgd": true, "rmsprop": true, "adagrad": true, "adadelta": true,
	}
	knownLosses = map[string]bool{
		"categoricalcrossentropy": true, "categorical_crossentropy": true,
		"sparsecategoricalcrossentropy": true, "sparse_categorical_crossentropy": true,
		"binarycrossentropy": true, "binary_crossentropy": true,
		"meansquarederror": true, "mean_squared_error": true, "mse": true,
	}
	knownMetrics = map[string]bool{"accuracy": true, "acc": true}
)

func (o CompileOptions) validate() error {
	if !knownOptimizers[strings.ToLower(o.Optimizer)] {
		return fmt.Errorf("unsupported optimizer %q", o.Optimizer)
	}
	if !knownLosses[strings.ToLower(o.Loss)] {
		return fmt.Errorf("unsupported loss %q", o.Loss)
	}
	for _, m := range o.Metrics {
		if !knownMetrics[strings.ToLower(m)] {
			return fmt.Errorf("unsupported metric %q", m)
		}
	}
	return nil
}

// Sequential is an ordered stack of layers.
type Sequential struct {
	name     string
	layers   []Layer
	compiled bool
	options  CompileOptions
	input    Shape
	output   Shape
}

// NewSequential returns an empty model.
func NewSequential(name string) *Sequential {
	return &Sequential{name: name}
}

// Name returns the model name.
func (m *Sequential) Name() string { return m.name }

// Add appends a layer. Adding invalidates a previous Compile.
func (m *Sequential) Add(layer Layer) error {
	if layer == nil {
		return errors.New("add: nil layer")
	}
	m.layers = append(m.layers, layer)
	m.compiled = false
	return nil
}

// Layers returns the layers in order.
func (m *Sequential) Layers() []Layer {
	return append([]Layer(nil), m.layers...)
}

// Layer returns the i-th layer.
func (m *Sequential) Layer(i int) Layer {
	return m.layers[i]
}

// Len returns the number of layers.
func (m *Sequential) Len() int { return len(m.layers) }

// InputShape returns the shape declared by the first layer.
func (m *Sequential) InputShape() (Shape, bool) {
	if len(m.layers) == 0 {
		return nil, false
	}
	shape, ok, err := m.layers[0].Config().BatchInputShape()
	if err != nil || !ok {
		return nil, false
	}
	return shape, true
}

// OutputShape returns the propagated output shape. It is nil until compiled.
func (m *Sequential) OutputShape() Shape {
	return append(Shape(nil), m.output...)
}

// OutputUnits returns the width of the final output, or 0 if not compiled.
func (m *Sequential) OutputUnits() int {
	if len(m.output) == 0 {
		return 0
	}
	return m.output[len(m.output)-1]
}

// Compiled reports whether Predict can be called.
func (m *Sequential) Compiled() bool { return m.compiled }

// CompileOptions returns the options of the last successful Compile.
func (m *Sequential) CompileOptions() CompileOptions { return m.options }

// Compile builds every layer against the shape propagated from the first
// layer's declared input and makes the model invocable.
func (m *Sequential) Compile(opts CompileOptions) error {
	if err := opts.validate(); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if len(m.layers) == 0 {
		return fmt.Errorf("compile: %w", ErrNoLayers)
	}
	first := m.layers[0]
	shape, ok, err := first.Config().BatchInputShape()
	if err != nil {
		return fmt.Errorf("compile: layer 0 (%s): %w", first.ClassName(), err)
	}
	if !ok {
		return fmt.Errorf("compile: layer 0 (%s) declares no input shape: %w", first.ClassName(), ErrInputShape)
	}

	input := shape
	for i, layer := range m.layers {
		next, err := layer.Build(shape)
		if err != nil {
			return fmt.Errorf("compile: layer %d (%s): %w", i, layer.ClassName(), err)
		}
		shape = next
	}

	m.input = input
	m.output = shape
	m.options = opts
	m.options.Metrics = append([]string(nil), opts.Metrics...)
	m.compiled = true
	return nil
}

// Predict runs x through every layer. Intermediate tensors are released; the
// result is owned by the caller and x is left untouched.
func (m *Sequential) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !m.compiled {
		return nil, ErrNotCompiled
	}
	if x == nil || x.Released() {
		return nil, tensor.ErrReleased
	}
	if x.Rank() != len(m.input) {
		return nil, fmt.Errorf("predict: expected %s, got %v: %w", m.input, x.Shape(), ErrInputShape)
	}
	for i, d := range m.input[1:] {
		if x.Dim(i+1) != d {
			return nil, fmt.Errorf("predict: expected %s, got %v: %w", m.input, x.Shape(), ErrInputShape)
		}
	}

	cur := x
	for i, layer := range m.layers {
		out, err := layer.Call(cur)
		if cur != x {
			cur.Release()
		}
		if err != nil {
			return nil, fmt.Errorf("predict: layer %d (%s): %w", i, layer.ClassName(), err)
		}
		cur = out
	}
	return cur, nil
}
