package model

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/mudra/internal/tensor"
)

// Dense is a fully connected layer: activation(x·kernel + bias).
type Dense struct {
	base
	units      int
	useBias    bool
	activation activationFunc

	inDim  int
	kernel *mat.Dense
	bias   []float64
	loaded []Weight
}

func newDense(config LayerConfig) (Layer, error) {
	units, err := config.Int("units", 0)
	if err != nil {
		return nil, err
	}
	if units <= 0 {
		return nil, fmt.Errorf("dense: units must be positive, got %d", units)
	}
	act, err := lookupActivation(config.String("activation", "linear"))
	if err != nil {
		return nil, err
	}
	return &Dense{
		base:       newBase("Dense", config),
		units:      units,
		useBias:    config.Bool("use_bias", true),
		activation: act,
	}, nil
}

// Units returns the output width.
func (d *Dense) Units() int { return d.units }

func (d *Dense) Weights() []Weight {
	return cloneWeights(d.loaded)
}

func (d *Dense) SetWeights(ws []Weight) error {
	kernel, ok := weightByShortName(ws, "kernel")
	if !ok {
		return fmt.Errorf("dense %q: missing kernel", d.Name())
	}
	if len(kernel.Shape) != 2 || kernel.Shape[1] != d.units {
		return fmt.Errorf("dense %q: kernel shape %v does not match %d units", d.Name(), kernel.Shape, d.units)
	}
	if len(kernel.Values) != shapeSize(kernel.Shape) {
		return fmt.Errorf("dense %q: kernel has %d values for shape %v", d.Name(), len(kernel.Values), kernel.Shape)
	}
	if d.built && kernel.Shape[0] != d.inDim {
		return fmt.Errorf("dense %q: kernel expects %d inputs, layer built for %d", d.Name(), kernel.Shape[0], d.inDim)
	}

	var bias []float64
	if d.useBias {
		b, ok := weightByShortName(ws, "bias")
		if !ok {
			return fmt.Errorf("dense %q: missing bias", d.Name())
		}
		if len(b.Values) != d.units {
			return fmt.Errorf("dense %q: bias has %d values, want %d", d.Name(), len(b.Values), d.units)
		}
		bias = append([]float64(nil), b.Values...)
	}

	d.kernel = mat.NewDense(kernel.Shape[0], d.units, append([]float64(nil), kernel.Values...))
	d.bias = bias
	d.loaded = cloneWeights(ws)
	return nil
}

func (d *Dense) Build(input Shape) (Shape, error) {
	if out, done, err := d.checkRebuild(input); done || err != nil {
		return out, err
	}
	if len(input) != 2 || input[1] <= 0 {
		return nil, fmt.Errorf("dense %q: expected input [batch, features], got %s", d.Name(), input)
	}
	if d.kernel == nil {
		return nil, fmt.Errorf("dense %q: weights not loaded", d.Name())
	}
	if rows, _ := d.kernel.Dims(); rows != input[1] {
		return nil, fmt.Errorf("dense %q: kernel expects %d inputs, got %s", d.Name(), rows, input)
	}
	d.inDim = input[1]
	out := Shape{input[0], d.units}
	d.markBuilt(input, out)
	return out, nil
}

func (d *Dense) Call(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.built {
		return nil, fmt.Errorf("dense %q: %w", d.Name(), ErrNotBuilt)
	}
	data := x.Data()
	if data == nil {
		return nil, tensor.ErrReleased
	}
	if x.Rank() != 2 || x.Dim(1) != d.inDim {
		return nil, fmt.Errorf("dense %q: expected [*, %d], got %v", d.Name(), d.inDim, x.Shape())
	}

	batch := x.Dim(0)
	out, err := tensor.Zeros(batch, d.units)
	if err != nil {
		return nil, err
	}
	res := mat.NewDense(batch, d.units, out.Data())
	res.Mul(mat.NewDense(batch, d.inDim, data), d.kernel)
	if d.useBias {
		for r := 0; r < batch; r++ {
			floats.Add(out.Data()[r*d.units:(r+1)*d.units], d.bias)
		}
	}
	d.activation(out.Data(), batch, d.units)
	return out, nil
}
