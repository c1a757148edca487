package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/mudra/internal/tensor"
)

var (
	// ErrUnknownLayer is returned when a class identifier has no registered
	// constructor.
	ErrUnknownLayer = errors.New("unknown layer class")
	// ErrNotBuilt is returned when a layer is called before Build.
	ErrNotBuilt = errors.New("layer not built")
)

// Weight is a named learned parameter. Name is the full variable path as
// stored in the weights manifest, e.g. "dense_1/kernel".
type Weight struct {
	Name   string
	Shape  []int
	Values []float64
}

// ShortName returns the trailing path segment of the weight name with any
// ":0" suffix removed.
func (w Weight) ShortName() string {
	name := w.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

// Layer is one stage of a sequential network.
type Layer interface {
	// ClassName is the serialized class identifier, e.g. "Dense".
	ClassName() string
	Name() string
	// Config returns a copy of the layer's configuration record.
	Config() LayerConfig
	// Build fixes the layer's input shape and returns its output shape. Both
	// include the batch dimension.
	Build(input Shape) (Shape, error)
	Built() bool
	Weights() []Weight
	SetWeights(weights []Weight) error
	// Call runs the layer forward. The returned tensor is owned by the caller.
	Call(x *tensor.Tensor) (*tensor.Tensor, error)
}

// base holds what every built-in layer shares.
type base struct {
	className string
	config    LayerConfig
	input     Shape
	output    Shape
	built     bool
}

func newBase(className string, config LayerConfig) base {
	return base{className: className, config: config.Clone()}
}

func (b *base) ClassName() string { return b.className }
func (b *base) Name() string { return b.config.Name() }
func (b *base) Config() LayerConfig { return b.config.Clone() }
func (b *base) Built() bool { return b.built }
func (b *base) Weights() []Weight { return nil }

func (b *base) SetWeights(ws []Weight) error {
	if len(ws) > 0 {
		return fmt.Errorf("%s %q: layer has no weights, got %d", b.className, b.Name(), len(ws))
	}
	return nil
}

// checkRebuild rejects building an already built layer against a new shape.
func (b *base) checkRebuild(input Shape) (Shape, bool, error) {
	if !b.built {
		return nil, false, nil
	}
	if !b.input.Equal(input) {
		return nil, true, fmt.Errorf("%s %q: already built for input %s, got %s",
			b.className, b.Name(), b.input, input)
	}
	return b.output, true, nil
}

func (b *base) markBuilt(input, output Shape) {
	b.input = append(Shape(nil), input...)
	b.output = append(Shape(nil), output...)
	b.built = true
}

// identity is shared by the layers that pass values through unchanged.
func identity(x *tensor.Tensor) (*tensor.Tensor, error) {
	data := x.Data()
	if data == nil {
		return nil, tensor.ErrReleased
	}
	return tensor.FromSlice(data, x.Shape()...)
}

func cloneWeights(ws []Weight) []Weight {
	out := make([]Weight, len(ws))
	for i, w := range ws {
		out[i] = Weight{
			Name:   w.Name,
			Shape:  append([]int(nil), w.Shape...),
			Values: append([]float64(nil), w.Values...),
		}
	}
	return out
}

func weightByShortName(ws []Weight, short string) (Weight, bool) {
	for _, w := range ws {
		if w.ShortName() == short {
			return w, true
		}
	}
	return Weight{}, false
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
