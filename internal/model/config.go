package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Shape is a tensor shape. Unknown dimensions (the batch dimension, usually)
// are -1, serialized as null.
type Shape []int

// Equal reports whether two shapes match dimension by dimension.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "null"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// BatchShape prefixes dims with an unknown batch dimension.
func BatchShape(dims ...int) Shape {
	return append(Shape{-1}, dims...)
}

// Keys under which a layer may declare its input shape.
const (
	keyBatchInputShape = "batch_input_shape"
	keyBatchShape      = "batch_shape"
	keyInputShape      = "input_shape"
)

// LayerConfig is a layer's serialized configuration record, as found under
// "config" in a layers-model topology.
type LayerConfig map[string]any

// Clone returns a deep copy.
func (c LayerConfig) Clone() LayerConfig {
	if c == nil {
		return LayerConfig{}
	}
	return cloneValue(map[string]any(c)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case LayerConfig:
		return LayerConfig(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// Name returns the layer name.
func (c LayerConfig) Name() string {
	s, _ := c["name"].(string)
	return s
}

// BatchInputShape returns the declared input shape including the batch
// dimension. ok is false when the layer declares none.
func (c LayerConfig) BatchInputShape() (shape Shape, ok bool, err error) {
	for _, key := range []string{keyBatchInputShape, keyBatchShape} {
		if raw, exists := c[key]; exists && raw != nil {
			shape, err := parseShape(raw)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", key, err)
			}
			return shape, true, nil
		}
	}
	if raw, exists := c[keyInputShape]; exists && raw != nil {
		dims, err := parseShape(raw)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", keyInputShape, err)
		}
		return append(Shape{-1}, dims...), true, nil
	}
	return nil, false, nil
}

// SetBatchInputShape replaces any declared input shape with shape.
func (c LayerConfig) SetBatchInputShape(shape Shape) {
	delete(c, keyBatchShape)
	delete(c, keyInputShape)
	dims := make([]any, len(shape))
	for i, d := range shape {
		if d < 0 {
			dims[i] = nil
		} else {
			dims[i] = d
		}
	}
	c[keyBatchInputShape] = dims
}

func parseShape(raw any) (Shape, error) {
	switch t := raw.(type) {
	case []int:
		return Shape(append([]int(nil), t...)), nil
	case Shape:
		return append(Shape(nil), t...), nil
	case []any:
		shape := make(Shape, len(t))
		for i, d := range t {
			if d == nil {
				shape[i] = -1
				continue
			}
			n, err := toInt(d)
			if err != nil {
				return nil, fmt.Errorf("dimension %d: %w", i, err)
			}
			shape[i] = n
		}
		return shape, nil
	default:
		return nil, fmt.Errorf("unexpected shape value %T", raw)
	}
}

// Int reads an integer field, returning def when absent.
func (c LayerConfig) Int(key string, def int) (int, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// Float reads a numeric field, returning def when absent.
func (c LayerConfig) Float(key string, def float64) (float64, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch t := raw.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("%s: expected number, got %T", key, raw)
	}
}

// String reads a string field, returning def when absent or empty.
func (c LayerConfig) String(key, def string) string {
	if s, ok := c[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Bool reads a boolean field, returning def when absent.
func (c LayerConfig) Bool(key string, def bool) bool {
	if b, ok := c[key].(bool); ok {
		return b
	}
	return def
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
