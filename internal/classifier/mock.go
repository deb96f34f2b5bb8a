package classifier

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockClassifier is a test Classifier with a scripted outcome.
type MockClassifier struct {
	mu     sync.Mutex
	labels []string
	index  int
	conf   float64
	err    error
	fn     func(call int) (Result, error)
	calls  int
}

// NewMockClassifier returns a classifier over labels that reports no label
// until configured.
func NewMockClassifier(labels []string) *MockClassifier {
	return &MockClassifier{labels: labels, index: NoLabel}
}

// SetResult makes Classify return labels[index] with confidence.
func (m *MockClassifier) SetResult(index int, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index, m.conf = index, confidence
}

// SetError makes Classify fail.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetFunc scripts Classify per call number.
func (m *MockClassifier) SetFunc(fn func(call int) (Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *MockClassifier) Classify(canvas gocv.Mat) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++

	if m.fn != nil {
		return m.fn(call)
	}
	if m.err != nil {
		return None(), m.err
	}
	if m.index == NoLabel || m.index >= len(m.labels) {
		return None(), nil
	}
	return Result{Index: m.index, Label: m.labels[m.index], Confidence: m.conf}, nil
}

// Calls returns the number of Classify calls.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClassifier) Labels() []string { return m.labels }
func (m *MockClassifier) Close() error     { return nil }
