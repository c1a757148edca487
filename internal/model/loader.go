package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedTopology is returned for artifacts that are not sequential
// layers models.
var ErrUnsupportedTopology = errors.New("unsupported model topology")

type artifact struct {
	Format          string          `json:"format"`
	GeneratedBy     string          `json:"generatedBy"`
	ModelTopology   json.RawMessage `json:"modelTopology"`
	WeightsManifest []weightGroup   `json:"weightsManifest"`
}

type weightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []weightSpec `json:"weights"`
}

type weightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

type topology struct {
	ClassName   string          `json:"class_name"`
	Config      json.RawMessage `json:"config"`
	ModelConfig *topology       `json:"model_config"`
}

type sequentialConfig struct {
	Name   string      `json:"name"`
	Layers []layerSpec `json:"layers"`
}

type layerSpec struct {
	ClassName string      `json:"class_name"`
	Config    LayerConfig `json:"config"`
}

// Load reads a model.json and its weight shards. The model is returned
// uncompiled and need not declare an input shape.
func Load(path string) (*Sequential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if len(art.ModelTopology) == 0 {
		return nil, fmt.Errorf("parse model %s: missing modelTopology", path)
	}

	name, specs, err := parseTopology(art.ModelTopology)
	if err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}

	weights, err := readWeights(filepath.Dir(path), art.WeightsManifest)
	if err != nil {
		return nil, fmt.Errorf("load weights for %s: %w", path, err)
	}

	m := NewSequential(name)
	for i, spec := range specs {
		layer, err := NewLayer(spec.ClassName, spec.Config)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if ws := weightsForLayer(weights, layer.Name()); len(ws) > 0 {
			if err := layer.SetWeights(ws); err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		if err := m.Add(layer); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LoadWithShape loads the model at path, requires its first layer to declare
// the input [null, shape...], and compiles it.
func LoadWithShape(path string, shape []int) (*Sequential, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	want := BatchShape(shape...)
	got, ok := m.InputShape()
	if !ok {
		return nil, fmt.Errorf("%s declares no input shape, want %s: %w", path, want, ErrInputShape)
	}
	if !got.Equal(want) {
		return nil, fmt.Errorf("%s declares input %s, want %s: %w", path, got, want, ErrInputShape)
	}
	if err := m.Compile(DefaultCompileOptions()); err != nil {
		return nil, err
	}
	return m, nil
}

func parseTopology(raw json.RawMessage) (string, []layerSpec, error) {
	var top topology
	if err := json.Unmarshal(raw, &top); err != nil {
		return "", nil, err
	}
	if top.ModelConfig != nil {
		top = *top.ModelConfig
	}
	if top.ClassName != "Sequential" {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedTopology, top.ClassName)
	}

	var cfg sequentialConfig
	trimmed := bytes.TrimSpace(top.Config)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// Older exports store the layer list directly.
		if err := json.Unmarshal(trimmed, &cfg.Layers); err != nil {
			return "", nil, err
		}
	} else if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return "", nil, err
	}
	return cfg.Name, cfg.Layers, nil
}

func readWeights(dir string, manifest []weightGroup) ([]Weight, error) {
	var weights []Weight
	for _, group := range manifest {
		var buf bytes.Buffer
		for _, p := range group.Paths {
			f, err := os.Open(filepath.Join(dir, filepath.FromSlash(p)))
			if err != nil {
				return nil, err
			}
			_, err = io.Copy(&buf, f)
			f.Close()
			if err != nil {
				return nil, err
			}
		}

		data := buf.Bytes()
		for _, spec := range group.Weights {
			if spec.DType != "" && spec.DType != "float32" {
				return nil, fmt.Errorf("weight %s: unsupported dtype %q", spec.Name, spec.DType)
			}
			n := shapeSize(spec.Shape)
			if len(data) < 4*n {
				return nil, fmt.Errorf("weight %s: shards too short for shape %v", spec.Name, spec.Shape)
			}
			values := make([]float64, n)
			for i := range values {
				values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
			}
			data = data[4*n:]
			weights = append(weights, Weight{
				Name:   spec.Name,
				Shape:  append([]int(nil), spec.Shape...),
				Values: values,
			})
		}
	}
	return weights, nil
}

func weightsForLayer(all []Weight, layerName string) []Weight {
	if layerName == "" {
		return nil
	}
	prefix := layerName + "/"
	var out []Weight
	for _, w := range all {
		if strings.HasPrefix(w.Name, prefix) || strings.Contains(w.Name, "/"+prefix) {
			out = append(out, w)
		}
	}
	return out
}
