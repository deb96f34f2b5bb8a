package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame differencing constants
const (
	// blurSize is the Gaussian kernel size used before differencing.
	blurSize = 21
	// diffThreshold is the per-pixel intensity change that counts as motion.
	diffThreshold = 25
	// DefaultMotionHold keeps the gate open after the last motion.
	DefaultMotionHold = 2 * time.Second
)

// MotionGate decides whether a frame is worth running hand detection on.
// The gate opens on the first frame and on any frame whose changed-pixel
// percentage exceeds the threshold, and stays open for hold afterwards so
// a held pose keeps being classified for a while.
type MotionGate struct {
	threshold  float64
	hold       time.Duration
	prevGray   gocv.Mat
	primed     bool
	lastMotion time.Time
	mu         sync.Mutex
}

// NewMotionGate creates a gate. threshold is the percentage of pixels that
// must change (1.0 means 1%).
func NewMotionGate(threshold float64, hold time.Duration) *MotionGate {
	if hold <= 0 {
		hold = DefaultMotionHold
	}
	return &MotionGate{
		threshold: threshold,
		hold:      hold,
		prevGray:  gocv.NewMat(),
	}
}

// Allow reports whether detection should run on frame at time now.
func (m *MotionGate) Allow(frame *gocv.Mat, now time.Time) bool {
	moved, _ := m.ChangePercent(frame)
	m.mu.Lock()
	defer m.mu.Unlock()

	if moved {
		m.lastMotion = now
		return true
	}
	return !m.lastMotion.IsZero() && now.Sub(m.lastMotion) < m.hold
}

// ChangePercent compares frame against the previous one. The first frame
// primes the gate and counts as motion.
func (m *MotionGate) ChangePercent(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: blurSize, Y: blurSize}, 0, 0, gocv.BorderDefault)

	if !m.primed || m.prevGray.Rows() != blurred.Rows() || m.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.primed = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, diffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// Close releases the stored reference frame.
func (m *MotionGate) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.primed = false
}
