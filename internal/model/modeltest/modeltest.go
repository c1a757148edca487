// Package modeltest writes small layers-format model artifacts for tests.
package modeltest

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Weight is a layer parameter keyed by its short name ("kernel", "bias").
type Weight struct {
	Name   string
	Shape  []int
	Values []float64
}

// Layer is one entry of the written topology.
type Layer struct {
	ClassName string
	Config    map[string]any
	Weights   []Weight
}

// WithInputShape returns a copy of l declaring batch_input_shape [null, dims...].
func (l Layer) WithInputShape(dims ...int) Layer {
	cfg := make(map[string]any, len(l.Config)+1)
	for k, v := range l.Config {
		cfg[k] = v
	}
	shape := []any{nil}
	for _, d := range dims {
		shape = append(shape, d)
	}
	cfg["batch_input_shape"] = shape
	l.Config = cfg
	return l
}

// Dense describes a Dense layer. kernel is [inputs][units].
func Dense(name, activation string, kernel [][]float64, bias []float64) Layer {
	rows := len(kernel)
	cols := 0
	if rows > 0 {
		cols = len(kernel[0])
	}
	flat := make([]float64, 0, rows*cols)
	for _, row := range kernel {
		flat = append(flat, row...)
	}
	return Layer{
		ClassName: "Dense",
		Config: map[string]any{
			"name":       name,
			"units":      cols,
			"activation": activation,
			"use_bias":   true,
		},
		Weights: []Weight{
			{Name: "kernel", Shape: []int{rows, cols}, Values: flat},
			{Name: "bias", Shape: []int{cols}, Values: bias},
		},
	}
}

// Dropout describes a Dropout layer.
func Dropout(name string, rate float64) Layer {
	return Layer{ClassName: "Dropout", Config: map[string]any{"name": name, "rate": rate}}
}

// Kernel returns a deterministic rows×cols matrix of small values.
func Kernel(rows, cols int, seed float64) [][]float64 {
	k := make([][]float64, rows)
	for i := range k {
		k[i] = make([]float64, cols)
		for j := range k[i] {
			k[i][j] = 0.1 * math.Sin(seed+float64(i*7+j*3))
		}
	}
	return k
}

// Bias returns a deterministic vector of n small values.
func Bias(n int, seed float64) []float64 {
	b := make([]float64, n)
	for i := range b {
		b[i] = 0.01 * math.Cos(seed+float64(i))
	}
	return b
}

// Write stores model.json and one weight shard in dir and returns the
// model.json path.
func Write(tb testing.TB, dir string, layers ...Layer) string {
	tb.Helper()

	type spec struct {
		Name  string `json:"name"`
		Shape []int  `json:"shape"`
		DType string `json:"dtype"`
	}
	var (
		entries []map[string]any
		specs   []spec
		shard   []byte
	)
	for _, l := range layers {
		entries = append(entries, map[string]any{"class_name": l.ClassName, "config": l.Config})
		name, _ := l.Config["name"].(string)
		for _, w := range l.Weights {
			specs = append(specs, spec{Name: name + "/" + w.Name, Shape: w.Shape, DType: "float32"})
			for _, v := range w.Values {
				shard = binary.LittleEndian.AppendUint32(shard, math.Float32bits(float32(v)))
			}
		}
	}

	const shardName = "group1-shard1of1.bin"
	doc := map[string]any{
		"format":      "layers-model",
		"generatedBy": "modeltest",
		"modelTopology": map[string]any{
			"class_name": "Sequential",
			"config": map[string]any{
				"name":   "sequential",
				"layers": entries,
			},
		},
		"weightsManifest": []map[string]any{{
			"paths":   []string{shardName},
			"weights": specs,
		}},
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		tb.Fatalf("marshal model: %v", err)
	}
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		tb.Fatalf("write model: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, shardName), shard, 0o644); err != nil {
		tb.Fatalf("write shard: %v", err)
	}
	return path
}

// Classifier writes a Dense-Dropout-Dense network mapping inputs features to
// classes softmax outputs. declareShape controls whether the first layer
// carries an explicit input shape.
func Classifier(tb testing.TB, dir string, inputs, classes int, declareShape bool) string {
	tb.Helper()
	const hidden = 8
	first := Dense("dense", "relu", Kernel(inputs, hidden, 1), Bias(hidden, 1))
	if declareShape {
		first = first.WithInputShape(inputs)
	}
	return Write(tb, dir,
		first,
		Dropout("dropout", 0.2),
		Dense("dense_1", "softmax", Kernel(hidden, classes, 2), Bias(classes, 2)),
	)
}

// Selector writes a single linear Dense layer whose output k equals input k,
// so the predicted class is the index of the largest of the first classes
// features.
func Selector(tb testing.TB, dir string, inputs, classes int, declareShape bool) string {
	tb.Helper()
	kernel := make([][]float64, inputs)
	for i := range kernel {
		kernel[i] = make([]float64, classes)
		if i < classes {
			kernel[i][i] = 1
		}
	}
	layer := Dense("dense", "linear", kernel, make([]float64, classes))
	if declareShape {
		layer = layer.WithInputShape(inputs)
	}
	return Write(tb, dir, layer)
}
