package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// DefaultTimeout bounds one round trip with an external localizer.
const DefaultTimeout = 2 * time.Second

// Detector defines the interface for hand localizer implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the detected hands with
	// their boxes in frame pixel coordinates.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]Hand, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// Script is the helper script path. Empty means search the usual locations.
	Script string

	// Python is the interpreter. Empty means a venv python if found, else python3.
	Python string

	// Timeout bounds each frame exchange (default: 2s). A helper that does
	// not answer in time is killed and restarted on the next frame.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:      2,
		MinConfidence: 0.7,
		Timeout:       DefaultTimeout,
	}
}
