package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/accumulator"
	"github.com/ayusman/mudra/internal/capture"
)

// Sink receives every encoded frame. Returning an error ends the session.
type Sink func(jpeg []byte) error

// Stats counts what a session did.
type Stats struct {
	Frames   int64 `json:"frames"`
	Skipped  int64 `json:"skipped"`
	Accepted int64 `json:"accepted"`
	Errors   int64 `json:"errors"`
}

// Session is one client's stream. It owns the camera while Run executes and
// keeps its own message.
type Session struct {
	ID        string
	StartedAt time.Time

	p      *Pipeline
	acc    *accumulator.Accumulator
	logger *zap.Logger

	frames   atomic.Int64
	skipped  atomic.Int64
	accepted atomic.Int64
	failed   atomic.Int64
}

// NewSession creates a session with an empty message.
func (p *Pipeline) NewSession() *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		StartedAt: p.now(),
		p:         p,
		acc:       accumulator.New(p.opts.Debounce, p.opts.Mode),
		logger:    p.logger.With(zap.String("session", id)),
	}
}

// Accumulator returns the session's message.
func (s *Session) Accumulator() *accumulator.Accumulator {
	return s.acc
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:   s.frames.Load(),
		Skipped:  s.skipped.Load(),
		Accepted: s.accepted.Load(),
		Errors:   s.failed.Load(),
	}
}

// Run opens the camera and emits annotated frames to sink until ctx is
// cancelled (nil is returned), sink fails (its error is returned) or the
// camera fails MaxCaptureFailures reads in a row (ErrCaptureUnavailable).
// The camera is closed on every return path.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	cam := s.p.c.Camera
	if err := cam.Open(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrCaptureUnavailable, err)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			s.logger.Warn("close camera", zap.Error(err))
		}
	}()

	s.logger.Info("session started")
	defer func() {
		st := s.Stats()
		s.logger.Info("session ended",
			zap.Int64("frames", st.Frames),
			zap.Int64("skipped", st.Skipped),
			zap.Int64("accepted", st.Accepted),
			zap.Int64("errors", st.Errors),
		)
	}()

	opts := s.p.opts
	delay := opts.RetryDelay
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := cam.ReadFrame()
		if err != nil {
			failures++
			s.skipped.Add(1)
			if failures >= opts.MaxCaptureFailures {
				s.logger.Error("camera gone", zap.Int("failures", failures), zap.Error(err))
				return fmt.Errorf("%w: %d consecutive failures: %v", capture.ErrCaptureUnavailable, failures, err)
			}
			if failures == 1 {
				s.logger.Warn("capture failed, retrying", zap.Error(err))
			}
			if err := s.p.sleep(ctx, delay); err != nil {
				return nil
			}
			delay = min(delay*2, opts.MaxRetryDelay)
			continue
		}
		failures = 0
		delay = opts.RetryDelay

		jpeg, err := s.process(frame)
		if err != nil {
			s.skipped.Add(1)
			s.logger.Warn("frame dropped", zap.Error(err))
			continue
		}

		if err := sink(jpeg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.frames.Add(1)

		if b := s.p.c.Broadcaster; b != nil {
			b.Publish(jpeg)
		}
	}
}

// process recognizes, annotates and encodes one frame, then closes it.
func (s *Session) process(frame *gocv.Mat) ([]byte, error) {
	defer frame.Close()

	p := s.p
	now := p.now()

	if p.Enabled() && (p.c.Motion == nil || p.c.Motion.Allow(frame, now)) {
		hands, result, err := p.recognize(frame)
		if err != nil {
			s.failed.Add(1)
			s.logger.Debug("recognition failed", zap.Error(err))
		}
		if s.acc.Observe(result, now) {
			s.accepted.Add(1)
			s.logger.Debug("label accepted",
				zap.String("label", result.Label),
				zap.Float64("confidence", result.Confidence),
			)
		}
		if p.opts.DrawHands && len(hands) > 0 {
			p.c.Annotator.DrawHands(frame, hands)
		}
	}

	p.c.Annotator.Annotate(frame, s.acc.Text())

	return p.c.Encoder.Encode(*frame)
}

// IsCaptureUnavailable reports whether err means the camera is gone.
func IsCaptureUnavailable(err error) bool {
	return errors.Is(err, capture.ErrCaptureUnavailable)
}
