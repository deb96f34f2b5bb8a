// Package classifier defines the hand-pose label classifier contract and its
// adapters.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// NoLabel is the Result index when no label clears the confidence threshold.
const NoLabel = -1

var (
	// ErrClassification marks a classifier failure or malformed output for one canvas.
	ErrClassification = errors.New("classification failed")

	// ErrModelLoad is returned when the model artifact cannot be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrLabelMismatch is returned when the label table does not match the model output width.
	ErrLabelMismatch = errors.New("label count does not match model output")
)

// Result is one classification of a normalized canvas.
type Result struct {
	Index         int       `json:"index"`
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// Found reports whether the result carries a label.
func (r Result) Found() bool {
	return r.Index != NoLabel
}

// None is the empty result.
func None() Result {
	return Result{Index: NoLabel}
}

// Classifier maps a normalized canvas to a label.
type Classifier interface {
	// Classify returns the best label for canvas, or a Result with Index
	// NoLabel when nothing clears the threshold.
	Classify(canvas gocv.Mat) (Result, error)

	// Labels returns the label table in model output order.
	Labels() []string

	// Close releases the model.
	Close() error
}

// Resolve picks the arg-max of probs. probs must have one entry per label.
// A best score below minConfidence yields Index NoLabel.
func Resolve(probs []float64, labels []string, minConfidence float64) (Result, error) {
	if len(probs) != len(labels) {
		return None(), fmt.Errorf("%w: %d scores for %d labels", ErrClassification, len(probs), len(labels))
	}

	best := NoLabel
	bestScore := math.Inf(-1)
	for i, p := range probs {
		if math.IsNaN(p) {
			return None(), fmt.Errorf("%w: score %d is NaN", ErrClassification, i)
		}
		if p > bestScore {
			best, bestScore = i, p
		}
	}

	result := Result{
		Index:         NoLabel,
		Confidence:    bestScore,
		Probabilities: probs,
	}
	if best != NoLabel && bestScore >= minConfidence {
		result.Index = best
		result.Label = labels[best]
	}

	return result, nil
}
