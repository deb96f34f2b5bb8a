package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	hands  []Hand
	err    error
	fn     func(call int) ([]Hand, error)
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []Hand) {
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

// SetFunc scripts Detect per call number, overriding SetHands and SetError.
func (m *MockDetector) SetFunc(fn func(call int) ([]Hand, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++

	if m.fn != nil {
		return m.fn(call)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Calls returns the number of Detect calls.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
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

// HandAt returns a right hand whose landmarks span box in a frame of the
// given size. Landmarks are spread along the box diagonal with the wrist at
// the bottom-left corner.
func HandAt(box image.Rectangle, width, height int) Hand {
	hand := Hand{
		Box:        box,
		Handedness: "Right",
		Score:      0.95,
	}

	for i := 0; i < NumLandmarks; i++ {
		f := float64(i) / float64(NumLandmarks-1)
		x := float64(box.Min.X) + f*float64(box.Dx())
		y := float64(box.Max.Y) - f*float64(box.Dy())
		hand.Landmarks[i] = Point3D{X: x / float64(width), Y: y / float64(height)}
	}

	return hand
}
