// Package app wires the mudra components together and owns the camera.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/accumulator"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/normalizer"
	"github.com/ayusman/mudra/internal/overlay"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// ErrCameraBusy is returned when a stream is requested while another holds the camera.
var ErrCameraBusy = errors.New("camera is busy")

// Deps are the external capability providers. Nil fields are built from the
// configuration by Build.
type Deps struct {
	Camera     capture.Camera
	Detector   detector.Detector
	Classifier classifier.Classifier
	Store      *store.Store
}

// App is the running mudra service.
type App struct {
	cfg      *config.Config
	deps     Deps
	pipeline *pipeline.Pipeline
	motion   *capture.MotionGate
	logger   *zap.Logger
	started  time.Time

	// guard is the single camera slot.
	guard chan struct{}

	mu      sync.RWMutex
	current *pipeline.Session
	lastAcc *accumulator.Accumulator
	hooks   []func(State)

	messages *messageHub
}

// State is what the page, API and tray show about the service.
type State struct {
	Streaming bool              `json:"streaming"`
	Enabled   bool              `json:"enabled"`
	Message   accumulator.State `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
}

// Build loads labels and the model, starts the detector adapter and opens
// the store as configured, then calls New. Model and label problems are
// returned as errors; a missing detector helper falls back to a detector
// that never finds hands.
func Build(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	labels, err := cfg.ResolveLabels()
	if err != nil {
		return nil, err
	}

	cls, err := classifier.NewDNN(classifier.DNNOptions{
		ModelPath:     cfg.Classifier.ModelPath,
		ConfigPath:    cfg.Classifier.ModelConfig,
		InputSize:     cfg.Classifier.InputSize,
		MinConfidence: cfg.Classifier.MinConfidence,
	}, labels, logger)
	if err != nil {
		return nil, err
	}

	var det detector.Detector
	mp, err := detector.NewMediaPipeDetector(detector.Config{
		MaxHands:      cfg.Detector.MaxHands,
		MinConfidence: cfg.Detector.MinConfidence,
		Script:        cfg.Detector.Script,
		Python:        cfg.Detector.Python,
		Timeout:       cfg.Detector.Timeout,
	}, logger)
	if err != nil {
		logger.Warn("mediapipe not available, no hands will be detected", zap.Error(err))
		det = detector.NewMockDetector()
	} else {
		det = mp
	}

	var st *store.Store
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			cls.Close()
			det.Close()
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err = store.New(cfg.DBPath)
		if err != nil {
			cls.Close()
			det.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	cam := capture.NewCamera(capture.Options{
		DeviceID: cfg.Camera.Index,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
	})

	return New(cfg, Deps{Camera: cam, Detector: det, Classifier: cls, Store: st}, logger)
}

// New assembles the pipeline from deps. Camera, Detector and Classifier are required.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if deps.Camera == nil || deps.Detector == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("%w: camera, detector and classifier are required", config.ErrInvalid)
	}

	mode, err := accumulator.ParseMode(cfg.Message.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	norm := normalizer.New(cfg.Normalizer.Offset, cfg.Normalizer.ImgSize)
	norm.Reject = cfg.Normalizer.Reject

	annotator := overlay.New(cfg.Overlay.Prefix, cfg.Overlay.MaxWidth)
	annotator.Offset = cfg.Normalizer.Offset

	var motion *capture.MotionGate
	if cfg.Camera.MotionThreshold > 0 {
		motion = capture.NewMotionGate(cfg.Camera.MotionThreshold, 0)
	}

	a := &App{
		cfg:      cfg,
		deps:     deps,
		motion:   motion,
		logger:   logger.Named("app"),
		started:  time.Now(),
		guard:    make(chan struct{}, 1),
		messages: newMessageHub(),
	}

	a.pipeline = pipeline.New(pipeline.Components{
		Camera:      deps.Camera,
		Detector:    deps.Detector,
		Normalizer:  norm,
		Classifier:  deps.Classifier,
		Annotator:   annotator,
		Encoder:     stream.NewEncoder(cfg.Stream.JPEGQuality),
		Motion:      motion,
		Broadcaster: pipeline.NewBroadcaster(),
	}, pipeline.Options{
		RetryDelay:         cfg.Camera.RetryDelay,
		MaxRetryDelay:      cfg.Camera.MaxRetryDelay,
		MaxCaptureFailures: cfg.Camera.MaxCaptureFailures,
		Debounce:           cfg.Message.Debounce,
		Mode:               mode,
		DrawHands:          true,
	}, logger)

	if st := deps.Store; st != nil {
		if n, err := st.Sessions().CloseDangling("process restarted"); err != nil {
			a.logger.Warn("close dangling sessions", zap.Error(err))
		} else if n > 0 {
			a.logger.Info("closed dangling sessions", zap.Int64("count", n))
		}
		a.pipeline.SetEnabled(st.Settings().Bool(store.SettingRecognitionEnabled, true))
	}

	return a, nil
}

// Stream runs one session that writes frames to sink. It returns
// ErrCameraBusy at once when another session holds the camera.
func (a *App) Stream(ctx context.Context, sink pipeline.Sink) error {
	select {
	case a.guard <- struct{}{}:
	default:
		return ErrCameraBusy
	}
	defer func() { <-a.guard }()

	s := a.pipeline.NewSession()
	a.attach(s)
	defer a.detach(s)

	rec := &store.SessionRecord{ID: s.ID, StartedAt: s.StartedAt}
	if a.deps.Store != nil {
		if err := a.deps.Store.Sessions().Create(rec); err != nil {
			a.logger.Warn("journal session start", zap.Error(err))
		}
	}

	// Forward message updates while the session runs.
	updates, unsubscribe := s.Accumulator().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range updates {
			a.messages.publish(st)
			a.notify()
		}
	}()

	err := s.Run(ctx, sink)

	unsubscribe()
	<-done

	if a.deps.Store != nil {
		stats := s.Stats()
		now := time.Now()
		rec.EndedAt = &now
		rec.Frames, rec.Skipped, rec.Accepted = stats.Frames, stats.Skipped, stats.Accepted
		rec.EndReason = endReason(ctx, err)
		if ferr := a.deps.Store.Sessions().Finish(rec); ferr != nil {
			a.logger.Warn("journal session end", zap.Error(ferr))
		}
	}

	return err
}

func endReason(ctx context.Context, err error) string {
	switch {
	case err == nil && ctx.Err() != nil:
		return "client disconnected"
	case err == nil:
		return "stopped"
	case errors.Is(err, capture.ErrCaptureUnavailable):
		return "camera unavailable"
	default:
		return err.Error()
	}
}

func (a *App) attach(s *pipeline.Session) {
	a.mu.Lock()
	a.current = s
	a.lastAcc = s.Accumulator()
	a.mu.Unlock()

	a.messages.publish(s.Accumulator().Snapshot())
	a.notify()
}

func (a *App) detach(s *pipeline.Session) {
	a.mu.Lock()
	if a.current == s {
		a.current = nil
	}
	a.mu.Unlock()
	a.notify()
}

// Busy reports whether a session holds the camera.
func (a *App) Busy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current != nil
}

// Message returns the message of the active session, or of the last one.
func (a *App) Message() accumulator.State {
	a.mu.RLock()
	acc := a.lastAcc
	a.mu.RUnlock()

	if acc == nil {
		return accumulator.State{}
	}
	return acc.Snapshot()
}

// State returns the service state.
func (a *App) State() State {
	a.mu.RLock()
	st := State{
		Streaming: a.current != nil,
		Enabled:   a.pipeline.Enabled(),
	}
	if a.current != nil {
		st.SessionID = a.current.ID
	}
	a.mu.RUnlock()

	st.Message = a.Message()
	return st
}

// SubscribeMessages returns message snapshots as they change.
func (a *App) SubscribeMessages() (<-chan accumulator.State, func()) {
	return a.messages.subscribe()
}

// OnChange registers fn to be called with the service state after every
// session start, stop, toggle or accepted label.
func (a *App) OnChange(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

func (a *App) notify() {
	a.mu.RLock()
	hooks := append([]func(State){}, a.hooks...)
	a.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}
	st := a.State()
	for _, fn := range hooks {
		fn(st)
	}
}

// SetEnabled turns recognition on or off and remembers the choice.
func (a *App) SetEnabled(enabled bool) {
	a.pipeline.SetEnabled(enabled)
	if a.deps.Store != nil {
		if err := a.deps.Store.Settings().SetBool(store.SettingRecognitionEnabled, enabled); err != nil {
			a.logger.Warn("persist recognition toggle", zap.Error(err))
		}
	}
	a.notify()
}

// Enabled reports whether recognition is on.
func (a *App) Enabled() bool {
	return a.pipeline.Enabled()
}

// Sessions returns journaled sessions, newest first.
func (a *App) Sessions(limit int) ([]*store.SessionRecord, error) {
	if a.deps.Store == nil {
		return []*store.SessionRecord{}, nil
	}
	return a.deps.Store.Sessions().List(limit)
}

// Frames subscribes to encoded frames of whatever session is running.
func (a *App) Frames(buffer int) (<-chan []byte, func()) {
	return a.pipeline.Broadcaster().Subscribe(buffer)
}

// Uptime returns how long the app has been running.
func (a *App) Uptime() time.Duration {
	return time.Since(a.started)
}

// Labels returns the classifier label table.
func (a *App) Labels() []string {
	return a.deps.Classifier.Labels()
}

// Close releases every component. Running sessions must have ended.
func (a *App) Close() error {
	var errs []error

	a.pipeline.Broadcaster().Close()
	a.messages.close()

	if a.motion != nil {
		a.motion.Close()
	}
	if err := a.deps.Camera.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if err := a.deps.Detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if err := a.deps.Classifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close classifier: %w", err))
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	a.logger.Info("stopped")
	return errors.Join(errs...)
}
