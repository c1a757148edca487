// Package tensor provides the small dense tensor type the classifier runtime
// works on. Buffers are pooled and must be returned with Release.
package tensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned when a released tensor is used.
var ErrReleased = errors.New("tensor already released")

var (
	live atomic.Int64
	pool = sync.Pool{New: func() any { return new([]float64) }}
)

// Tensor is a row-major float64 tensor.
type Tensor struct {
	shape    []int
	data     []float64
	buf      *[]float64
	released atomic.Bool
}

// Live reports how many tensors have been allocated and not yet released.
func Live() int64 {
	return live.Load()
}

// Zeros allocates a zero-filled tensor of the given shape.
func Zeros(shape ...int) (*Tensor, error) {
	size, err := numElements(shape)
	if err != nil {
		return nil, err
	}

	buf := pool.Get().(*[]float64)
	if cap(*buf) < size {
		*buf = make([]float64, size)
	}
	data := (*buf)[:size]
	clear(data)

	live.Add(1)
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  data,
		buf:   buf,
	}, nil
}

// FromSlice allocates a tensor of the given shape holding a copy of values.
func FromSlice(values []float64, shape ...int) (*Tensor, error) {
	size, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if size != len(values) {
		return nil, fmt.Errorf("tensor: %d values do not fill shape %v", len(values), shape)
	}
	t, err := Zeros(shape...)
	if err != nil {
		return nil, err
	}
	copy(t.data, values)
	return t, nil
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Data exposes the backing slice. It is only valid until Release.
func (t *Tensor) Data() []float64 {
	if t.released.Load() {
		return nil
	}
	return t.data
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	return t.released.Load()
}

// Release returns the buffer to the pool. Calling it more than once is a no-op.
func (t *Tensor) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	live.Add(-1)
	t.data = nil
	pool.Put(t.buf)
	t.buf = nil
}

// Reshape returns a new tensor with the same values and a different shape.
// The receiver is left untouched.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if t.released.Load() {
		return nil, ErrReleased
	}
	return FromSlice(t.data, shape...)
}

// ArgMax returns, for every row of a rank-2 tensor, the index of its largest
// value. Ties resolve to the lowest index.
func (t *Tensor) ArgMax() ([]int, error) {
	if t.released.Load() {
		return nil, ErrReleased
	}
	if len(t.shape) != 2 || t.shape[1] == 0 {
		return nil, fmt.Errorf("tensor: argmax needs a non-empty rank-2 tensor, got shape %v", t.shape)
	}

	rows, cols := t.shape[0], t.shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out, nil
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("tensor: empty shape")
	}
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("tensor: invalid dimension in shape %v", shape)
		}
		size *= d
	}
	return size, nil
}
