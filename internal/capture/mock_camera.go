package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back frames for tests. It can inject transient read
// failures and counts Open/Close calls so tests can check the handle is
// released.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	failFn  func(read int) bool
	reads   int
	opens   int
	closes  int
	mu      sync.Mutex
	running bool
}

// NewMockCamera returns a camera that replays frames, looping when loop is set.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

// FailWhen makes ReadFrame return ErrCaptureUnavailable for every read
// number (starting at 0) for which fn returns true.
func (c *MockCamera) FailWhen(fn func(read int) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failFn = fn
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	c.opens++
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.closes++
	}
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	read := c.reads
	c.reads++
	if c.failFn != nil && c.failFn(read) {
		return nil, fmt.Errorf("%w: injected failure on read %d", ErrCaptureUnavailable, read)
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("%w: no frames available", ErrCaptureUnavailable)
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, fmt.Errorf("%w: no more frames", ErrCaptureUnavailable)
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reads returns how many ReadFrame calls were made.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// OpenCloseCounts returns how many times the camera was opened and closed.
func (c *MockCamera) OpenCloseCounts() (opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}
