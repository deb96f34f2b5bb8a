// Package pipeline runs the per-frame recognition loop: capture, detect,
// normalize, classify, accumulate, annotate, encode and emit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/accumulator"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/normalizer"
	"github.com/ayusman/mudra/internal/overlay"
	"github.com/ayusman/mudra/internal/stream"
)

// Retry defaults for failed captures.
const (
	DefaultRetryDelay         = 50 * time.Millisecond
	DefaultMaxRetryDelay      = time.Second
	DefaultMaxCaptureFailures = 100
)

// Components are the stages a Pipeline drives. Motion and Broadcaster are optional.
type Components struct {
	Camera      capture.Camera
	Detector    detector.Detector
	Normalizer  *normalizer.Normalizer
	Classifier  classifier.Classifier
	Annotator   *overlay.Annotator
	Encoder     *stream.Encoder
	Motion      *capture.MotionGate
	Broadcaster *Broadcaster
}

// Options tunes the loop.
type Options struct {
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	MaxCaptureFailures int
	Debounce           time.Duration
	Mode               accumulator.Mode
	// DrawHands overlays hand boxes and landmarks on emitted frames.
	DrawHands bool
}

func (o *Options) applyDefaults() {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(DefaultMaxRetryDelay, o.RetryDelay)
	}
	if o.MaxCaptureFailures <= 0 {
		o.MaxCaptureFailures = DefaultMaxCaptureFailures
	}
}

// Pipeline holds the shared stages. Sessions created from it take turns on
// the camera; callers must not run two sessions at once.
type Pipeline struct {
	c       Components
	opts    Options
	logger  *zap.Logger
	enabled atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline. Recognition starts enabled.
func New(c Components, opts Options, logger *zap.Logger) *Pipeline {
	opts.applyDefaults()
	if c.Encoder == nil {
		c.Encoder = stream.NewEncoder(stream.DefaultQuality)
	}
	if c.Annotator == nil {
		c.Annotator = overlay.New(overlay.DefaultPrefix, overlay.DefaultMaxWidth)
	}

	p := &Pipeline{
		c:      c,
		opts:   opts,
		logger: logger.Named("pipeline"),
		now:    time.Now,
		sleep:  sleepContext,
	}
	p.enabled.Store(true)
	return p
}

// SetEnabled turns recognition on or off. Frames keep streaming while off.
func (p *Pipeline) SetEnabled(enabled bool) {
	if p.enabled.Swap(enabled) != enabled {
		p.logger.Info("recognition toggled", zap.Bool("enabled", enabled))
	}
}

// Enabled reports whether recognition runs on captured frames.
func (p *Pipeline) Enabled() bool {
	return p.enabled.Load()
}

// Broadcaster returns the frame broadcaster, or nil.
func (p *Pipeline) Broadcaster() *Broadcaster {
	return p.c.Broadcaster
}

// recognize runs detection, normalization and classification on frame. It
// returns the detected hands and the most confident labelled result. Errors
// for single hands are joined and do not discard results from other hands.
func (p *Pipeline) recognize(frame *gocv.Mat) (hands []detector.Hand, best classifier.Result, err error) {
	best = classifier.None()

	defer func() {
		if r := recover(); r != nil {
			hands, best = nil, classifier.None()
			err = fmt.Errorf("%w: recovered panic: %v", classifier.ErrClassification, r)
		}
	}()

	hands, err = p.c.Detector.Detect(frame)
	if err != nil {
		return nil, best, fmt.Errorf("detect: %w", err)
	}

	var errs []error
	for i := range hands {
		result, err := p.classifyHand(frame, hands[i].Box)
		if err != nil {
			errs = append(errs, fmt.Errorf("hand %d: %w", i, err))
			continue
		}

		if result.Found() && (!best.Found() || result.Confidence > best.Confidence) {
			best = result
		}
	}

	return hands, best, errors.Join(errs...)
}

// classifyHand normalizes one hand region and classifies it. The canvas is
// released even when the classifier panics.
func (p *Pipeline) classifyHand(frame *gocv.Mat, box image.Rectangle) (classifier.Result, error) {
	canvas, err := p.c.Normalizer.Normalize(*frame, box)
	defer canvas.Close()
	if err != nil {
		return classifier.None(), err
	}
	return p.c.Classifier.Classify(canvas)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
