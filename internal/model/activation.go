package model

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// activationFunc applies an activation in place to a rows×cols matrix.
type activationFunc func(data []float64, rows, cols int)

var activations = map[string]activationFunc{
	"linear":   func([]float64, int, int) {},
	"relu":     elementwise(func(v float64) float64 { return math.Max(v, 0) }),
	"relu6":    elementwise(func(v float64) float64 { return math.Min(math.Max(v, 0), 6) }),
	"elu":      elementwise(elu),
	"selu":     elementwise(selu),
	"sigmoid":  elementwise(sigmoid),
	"tanh":     elementwise(math.Tanh),
	"softplus": elementwise(func(v float64) float64 { return math.Log1p(math.Exp(v)) }),
	"softsign": elementwise(func(v float64) float64 { return v / (1 + math.Abs(v)) }),
	"softmax":  softmax,
}

func lookupActivation(name string) (activationFunc, error) {
	if name == "" {
		name = "linear"
	}
	fn, ok := activations[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
	return fn, nil
}

func elementwise(f func(float64) float64) activationFunc {
	return func(data []float64, _, _ int) {
		for i, v := range data {
			data[i] = f(v)
		}
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func elu(v float64) float64 {
	if v > 0 {
		return v
	}
	return math.Expm1(v)
}

func selu(v float64) float64 {
	const (
		alpha = 1.6732632423543772
		scale = 1.0507009873554805
	)
	if v > 0 {
		return scale * v
	}
	return scale * alpha * math.Expm1(v)
}

// softmax normalizes each row independently.
func softmax(data []float64, rows, cols int) {
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		if len(row) == 0 {
			continue
		}
		floats.AddConst(-floats.Max(row), row)
		for i, v := range row {
			row[i] = math.Exp(v)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
}
