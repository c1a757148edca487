package features

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ayusman/mudra/internal/detector"
)

func TestVectorize(t *testing.T) {
	t.Run("flattens point-major and divides by 500", func(t *testing.T) {
		hand := detector.OpenPalmLandmarks()

		v, err := Vectorize(hand.Points)
		if err != nil {
			t.Fatalf("Vectorize() error = %v", err)
		}
		if len(v) != VectorLength {
			t.Fatalf("len = %d, want %d", len(v), VectorLength)
		}

		for i, p := range hand.Points {
			want := [3]float64{p.X / 500, p.Y / 500, p.Z / 500}
			got := [3]float64{v[3*i], v[3*i+1], v[3*i+2]}
			if got != want {
				t.Errorf("point %d = %v, want %v", i, got, want)
			}
		}
	})

	t.Run("exact for arbitrary magnitudes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for trial := 0; trial < 50; trial++ {
			points := make([]detector.Point3D, detector.NumLandmarks)
			for i := range points {
				mag := float64(int64(1) << uint(rng.Intn(30)))
				points[i] = detector.Point3D{
					X: rng.NormFloat64() * mag,
					Y: -rng.Float64() * mag,
					Z: rng.Float64() / mag,
				}
			}

			v, err := Vectorize(points)
			if err != nil {
				t.Fatalf("trial %d: error = %v", trial, err)
			}
			for i, p := range points {
				if v[3*i] != p.X/500 || v[3*i+1] != p.Y/500 || v[3*i+2] != p.Z/500 {
					t.Fatalf("trial %d: point %d mismatch", trial, i)
				}
			}
		}
	})

	t.Run("rejects wrong point counts", func(t *testing.T) {
		for _, n := range []int{0, 1, 20, 22, 42} {
			v, err := Vectorize(detector.MalformedLandmarks(n).Points)
			if !errors.Is(err, ErrInvalidLandmarkShape) {
				t.Errorf("n=%d: expected ErrInvalidLandmarkShape, got %v", n, err)
			}
			if v != nil {
				t.Errorf("n=%d: expected no vector, got len %d", n, len(v))
			}
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		hand := detector.ThumbsUpLandmarks()
		before := append([]detector.Point3D(nil), hand.Points...)

		if _, err := Vectorize(hand.Points); err != nil {
			t.Fatalf("Vectorize() error = %v", err)
		}
		for i := range before {
			if before[i] != hand.Points[i] {
				t.Fatalf("point %d modified", i)
			}
		}
	})
}

func TestNormalizer_Scale(t *testing.T) {
	hand := detector.ThumbsUpLandmarks()

	t.Run("custom scale", func(t *testing.T) {
		v, err := NewNormalizer(250).Vectorize(hand.Points)
		if err != nil {
			t.Fatalf("Vectorize() error = %v", err)
		}
		if v[0] != hand.Points[0].X/250 {
			t.Errorf("v[0] = %f, want %f", v[0], hand.Points[0].X/250)
		}
	})

	t.Run("non-positive scale falls back to default", func(t *testing.T) {
		for _, scale := range []float64{0, -3} {
			n := NewNormalizer(scale)
			if n.Scale != DefaultScale {
				t.Errorf("NewNormalizer(%v).Scale = %v, want %v", scale, n.Scale, DefaultScale)
			}
		}
		v, err := Normalizer{}.Vectorize(hand.Points)
		if err != nil {
			t.Fatalf("Vectorize() error = %v", err)
		}
		if v[0] != hand.Points[0].X/DefaultScale {
			t.Errorf("zero-value normalizer did not use default scale")
		}
	})
}
