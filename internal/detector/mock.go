package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	err    error
	fn     func(call int) ([]HandLandmarks, error)
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetFunc installs a per-call result function. It takes precedence over
// SetHands and SetError. call starts at 1.
func (m *MockDetector) SetFunc(fn func(call int) ([]HandLandmarks, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(ctx context.Context, frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	m.calls++
	call, fn, hands, err := m.calls, m.fn, m.hands, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	if err != nil {
		return nil, err
	}
	return hands, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the mock closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ThumbsUpLandmarks returns a thumbs-up hand in pixel coordinates, the range
// the upstream extractor reports.
func ThumbsUpLandmarks() HandLandmarks {
	h := newHand("Right", 0.95)

	h.Points[Wrist] = Point3D{X: 320, Y: 400, Z: 0}

	h.Points[ThumbCMC] = Point3D{X: 345, Y: 375, Z: -4}
	h.Points[ThumbMCP] = Point3D{X: 360, Y: 325, Z: -6}
	h.Points[ThumbIP] = Point3D{X: 360, Y: 250, Z: -7}
	h.Points[ThumbTip] = Point3D{X: 360, Y: 175, Z: -8}

	h.Points[IndexMCP] = Point3D{X: 345, Y: 350, Z: -10}
	h.Points[IndexPIP] = Point3D{X: 345, Y: 340, Z: -25}
	h.Points[IndexDIP] = Point3D{X: 330, Y: 350, Z: -20}
	h.Points[IndexTip] = Point3D{X: 320, Y: 360, Z: -10}

	h.Points[MiddleMCP] = Point3D{X: 320, Y: 340, Z: -10}
	h.Points[MiddlePIP] = Point3D{X: 320, Y: 330, Z: -25}
	h.Points[MiddleDIP] = Point3D{X: 305, Y: 340, Z: -20}
	h.Points[MiddleTip] = Point3D{X: 295, Y: 350, Z: -10}

	h.Points[RingMCP] = Point3D{X: 295, Y: 350, Z: -10}
	h.Points[RingPIP] = Point3D{X: 295, Y: 340, Z: -25}
	h.Points[RingDIP] = Point3D{X: 280, Y: 350, Z: -20}
	h.Points[RingTip] = Point3D{X: 270, Y: 360, Z: -10}

	h.Points[PinkyMCP] = Point3D{X: 270, Y: 360, Z: -10}
	h.Points[PinkyPIP] = Point3D{X: 270, Y: 350, Z: -25}
	h.Points[PinkyDIP] = Point3D{X: 255, Y: 360, Z: -20}
	h.Points[PinkyTip] = Point3D{X: 245, Y: 370, Z: -10}

	return h
}

// OpenPalmLandmarks returns an open-palm hand in pixel coordinates.
func OpenPalmLandmarks() HandLandmarks {
	h := newHand("Right", 0.95)

	h.Points[Wrist] = Point3D{X: 320, Y: 400, Z: 0}

	h.Points[ThumbCMC] = Point3D{X: 345, Y: 375, Z: 10}
	h.Points[ThumbMCP] = Point3D{X: 380, Y: 350, Z: 15}
	h.Points[ThumbIP] = Point3D{X: 410, Y: 325, Z: 15}
	h.Points[ThumbTip] = Point3D{X: 435, Y: 300, Z: 15}

	h.Points[IndexMCP] = Point3D{X: 345, Y: 340, Z: 0}
	h.Points[IndexPIP] = Point3D{X: 355, Y: 275, Z: 0}
	h.Points[IndexDIP] = Point3D{X: 360, Y: 225, Z: 0}
	h.Points[IndexTip] = Point3D{X: 360, Y: 175, Z: 0}

	h.Points[MiddleMCP] = Point3D{X: 320, Y: 330, Z: 0}
	h.Points[MiddlePIP] = Point3D{X: 320, Y: 260, Z: 0}
	h.Points[MiddleDIP] = Point3D{X: 320, Y: 200, Z: 0}
	h.Points[MiddleTip] = Point3D{X: 320, Y: 140, Z: 0}

	h.Points[RingMCP] = Point3D{X: 295, Y: 340, Z: 0}
	h.Points[RingPIP] = Point3D{X: 285, Y: 275, Z: 0}
	h.Points[RingDIP] = Point3D{X: 280, Y: 225, Z: 0}
	h.Points[RingTip] = Point3D{X: 280, Y: 175, Z: 0}

	h.Points[PinkyMCP] = Point3D{X: 270, Y: 350, Z: 0}
	h.Points[PinkyPIP] = Point3D{X: 255, Y: 300, Z: 0}
	h.Points[PinkyDIP] = Point3D{X: 245, Y: 250, Z: 0}
	h.Points[PinkyTip] = Point3D{X: 240, Y: 210, Z: 0}

	return h
}

// MalformedLandmarks returns a hand with n points, for exercising shape checks.
func MalformedLandmarks(n int) HandLandmarks {
	h := HandLandmarks{Points: make([]Point3D, n), Handedness: "Right", Score: 0.5}
	for i := range h.Points {
		h.Points[i] = Point3D{X: float64(i), Y: float64(i), Z: 0}
	}
	return h
}
