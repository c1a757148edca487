package model

import (
	"fmt"
	"math"

	"github.com/ayusman/mudra/internal/tensor"
)

// Dropout is the identity at inference time.
type Dropout struct {
	base
	rate float64
}

func newDropout(config LayerConfig) (Layer, error) {
	rate, err := config.Float("rate", 0)
	if err != nil {
		return nil, err
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout: rate must be in [0, 1), got %v", rate)
	}
	return &Dropout{base: newBase("Dropout", config), rate: rate}, nil
}

func (d *Dropout) Build(input Shape) (Shape, error) {
	if out, done, err := d.checkRebuild(input); done || err != nil {
		return out, err
	}
	d.markBuilt(input, input)
	return input, nil
}

func (d *Dropout) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.built {
		return nil, fmt.Errorf("dropout %q: %w", d.Name(), ErrNotBuilt)
	}
	return identity(x)
}

// Activation applies a named activation function.
type Activation struct {
	base
	fn activationFunc
}

func newActivationLayer(config LayerConfig) (Layer, error) {
	fn, err := lookupActivation(config.String("activation", "linear"))
	if err != nil {
		return nil, err
	}
	return &Activation{base: newBase("Activation", config), fn: fn}, nil
}

func (a *Activation) Build(input Shape) (Shape, error) {
	if out, done, err := a.checkRebuild(input); done || err != nil {
		return out, err
	}
	if len(input) < 2 {
		return nil, fmt.Errorf("activation %q: expected batched input, got %s", a.Name(), input)
	}
	a.markBuilt(input, input)
	return input, nil
}

func (a *Activation) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !a.built {
		return nil, fmt.Errorf("activation %q: %w", a.Name(), ErrNotBuilt)
	}
	out, err := identity(x)
	if err != nil {
		return nil, err
	}
	shape := out.Shape()
	cols := shape[len(shape)-1]
	a.fn(out.Data(), len(out.Data())/cols, cols)
	return out, nil
}

// Flatten collapses every non-batch dimension.
type Flatten struct {
	base
}

func newFlatten(config LayerConfig) (Layer, error) {
	return &Flatten{base: newBase("Flatten", config)}, nil
}

func (f *Flatten) Build(input Shape) (Shape, error) {
	if out, done, err := f.checkRebuild(input); done || err != nil {
		return out, err
	}
	if len(input) < 2 {
		return nil, fmt.Errorf("flatten %q: expected batched input, got %s", f.Name(), input)
	}
	size := 1
	for _, d := range input[1:] {
		if d <= 0 {
			return nil, fmt.Errorf("flatten %q: input shape %s is not fully defined", f.Name(), input)
		}
		size *= d
	}
	out := Shape{input[0], size}
	f.markBuilt(input, out)
	return out, nil
}

func (f *Flatten) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !f.built {
		return nil, fmt.Errorf("flatten %q: %w", f.Name(), ErrNotBuilt)
	}
	if x.Released() {
		return nil, tensor.ErrReleased
	}
	return x.Reshape(x.Dim(0), f.output[1])
}

// BatchNormalization applies the stored moving statistics over the last axis.
type BatchNormalization struct {
	base
	epsilon float64
	center  bool
	scale   bool

	gamma, beta, mean, variance []float64
	loaded                      []Weight
}

func newBatchNormalization(config LayerConfig) (Layer, error) {
	axis, err := config.Int("axis", -1)
	if err != nil {
		return nil, err
	}
	if axis != -1 {
		return nil, fmt.Errorf("batch normalization: only the last axis is supported, got %d", axis)
	}
	eps, err := config.Float("epsilon", 1e-3)
	if err != nil {
		return nil, err
	}
	return &BatchNormalization{
		base:    newBase("BatchNormalization", config),
		epsilon: eps,
		center:  config.Bool("center", true),
		scale:   config.Bool("scale", true),
	}, nil
}

func (b *BatchNormalization) Weights() []Weight {
	return cloneWeights(b.loaded)
}

func (b *BatchNormalization) SetWeights(ws []Weight) error {
	get := func(short string, want bool) ([]float64, error) {
		w, ok := weightByShortName(ws, short)
		if !ok {
			if want {
				return nil, fmt.Errorf("batch normalization %q: missing %s", b.Name(), short)
			}
			return nil, nil
		}
		return append([]float64(nil), w.Values...), nil
	}

	var err error
	var gamma, beta, mean, variance []float64
	if gamma, err = get("gamma", b.scale); err != nil {
		return err
	}
	if beta, err = get("beta", b.center); err != nil {
		return err
	}
	if mean, err = get("moving_mean", true); err != nil {
		return err
	}
	if variance, err = get("moving_variance", true); err != nil {
		return err
	}
	n := len(mean)
	for name, v := range map[string][]float64{"gamma": gamma, "beta": beta, "moving_variance": variance} {
		if v != nil && len(v) != n {
			return fmt.Errorf("batch normalization %q: %s has %d values, want %d", b.Name(), name, len(v), n)
		}
	}
	if b.built && n != b.input[len(b.input)-1] {
		return fmt.Errorf("batch normalization %q: %d channels, layer built for %s", b.Name(), n, b.input)
	}

	b.gamma, b.beta, b.mean, b.variance = gamma, beta, mean, variance
	b.loaded = cloneWeights(ws)
	return nil
}

func (b *BatchNormalization) Build(input Shape) (Shape, error) {
	if out, done, err := b.checkRebuild(input); done || err != nil {
		return out, err
	}
	if len(input) < 2 {
		return nil, fmt.Errorf("batch normalization %q: expected batched input, got %s", b.Name(), input)
	}
	if b.mean == nil {
		return nil, fmt.Errorf("batch normalization %q: weights not loaded", b.Name())
	}
	if channels := input[len(input)-1]; channels != len(b.mean) {
		return nil, fmt.Errorf("batch normalization %q: %d channels, got input %s", b.Name(), len(b.mean), input)
	}
	b.markBuilt(input, input)
	return input, nil
}

func (b *BatchNormalization) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !b.built {
		return nil, fmt.Errorf("batch normalization %q: %w", b.Name(), ErrNotBuilt)
	}
	out, err := identity(x)
	if err != nil {
		return nil, err
	}
	channels := len(b.mean)
	data := out.Data()
	if len(data)%channels != 0 {
		out.Release()
		return nil, fmt.Errorf("batch normalization %q: input %v does not end in %d channels", b.Name(), x.Shape(), channels)
	}
	for i, v := range data {
		c := i % channels
		v = (v - b.mean[c]) / math.Sqrt(b.variance[c]+b.epsilon)
		if b.gamma != nil {
			v *= b.gamma[c]
		}
		if b.beta != nil {
			v += b.beta[c]
		}
		data[i] = v
	}
	return out, nil
}

// InputLayer only declares the network's input shape.
type InputLayer struct {
	base
}

func newInputLayer(config LayerConfig) (Layer, error) {
	return &InputLayer{base: newBase("InputLayer", config)}, nil
}

func (l *InputLayer) Build(input Shape) (Shape, error) {
	if out, done, err := l.checkRebuild(input); done || err != nil {
		return out, err
	}
	l.markBuilt(input, input)
	return input, nil
}

func (l *InputLayer) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !l.built {
		return nil, fmt.Errorf("input layer %q: %w", l.Name(), ErrNotBuilt)
	}
	return identity(x)
}
