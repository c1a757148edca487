// Package features turns hand landmark sets into classifier input vectors.
package features

import (
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/detector"
)

// DefaultScale divides every coordinate. The extractor reports pixel-space
// coordinates, so 500 maps a 640x480 frame roughly onto [0, 1]. Recalibrate
// it together with the classifier it was trained for.
const DefaultScale = 500.0

// VectorLength is the flattened length of one landmark set.
const VectorLength = detector.NumLandmarks * 3

// ErrInvalidLandmarkShape is returned when a landmark set does not hold
// exactly detector.NumLandmarks points.
var ErrInvalidLandmarkShape = errors.New("invalid landmark shape")

// Vector is a normalized, point-major feature vector.
type Vector []float64

// Normalizer flattens landmark sets and divides them by Scale.
type Normalizer struct {
	Scale float64
}

// NewNormalizer returns a Normalizer, substituting DefaultScale for
// non-positive scales.
func NewNormalizer(scale float64) Normalizer {
	if scale <= 0 {
		scale = DefaultScale
	}
	return Normalizer{Scale: scale}
}

// Vectorize flattens points as x0, y0, z0, x1, ... and divides each value by
// the scale. It never returns a partial vector.
func (n Normalizer) Vectorize(points []detector.Point3D) (Vector, error) {
	if len(points) != detector.NumLandmarks {
		return nil, fmt.Errorf("%w: got %d points, want %d", ErrInvalidLandmarkShape, len(points), detector.NumLandmarks)
	}

	scale := n.Scale
	if scale <= 0 {
		scale = DefaultScale
	}

	v := make(Vector, 0, VectorLength)
	for _, p := range points {
		v = append(v, p.X/scale, p.Y/scale, p.Z/scale)
	}
	return v, nil
}

// Vectorize uses DefaultScale.
func Vectorize(points []detector.Point3D) (Vector, error) {
	return Normalizer{Scale: DefaultScale}.Vectorize(points)
}
