package app

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/store"
)

type testEnv struct {
	app        *App
	camera     *capture.MockCamera
	detector   *detector.MockDetector
	classifier *classifier.MockClassifier
	store      *store.Store
}

func newTestEnv(t *testing.T, dbPath string) *testEnv {
	t.Helper()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), 480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "mudra.db")
	}
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	env := &testEnv{
		camera:     capture.NewMockCamera([]*gocv.Mat{&frame}, true),
		detector:   detector.NewMockDetector(),
		classifier: classifier.NewMockClassifier([]string{"A", "B", "C"}),
		store:      st,
	}

	cfg := config.Default()
	cfg.Classifier.Labels = []string{"A", "B", "C"}

	a, err := New(cfg, Deps{
		Camera:     env.camera,
		Detector:   env.detector,
		Classifier: env.classifier,
		Store:      st,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.app = a
	t.Cleanup(func() { a.Close() })

	return env
}

// streamFrames runs a session until n frames were delivered.
func streamFrames(t *testing.T, a *App, n int) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count := 0
	return a.Stream(ctx, func([]byte) error {
		count++
		if count == n {
			cancel()
		}
		return nil
	})
}

func TestNew_RequiresDeps(t *testing.T) {
	cfg := config.Default()
	_, err := New(cfg, Deps{}, zaptest.NewLogger(t))
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("New() error = %v, want ErrInvalid", err)
	}
}

func TestBuild_StartupErrors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		if _, err := Build(cfg, zaptest.NewLogger(t)); !errors.Is(err, config.ErrInvalid) {
			t.Errorf("Build() error = %v, want ErrInvalid", err)
		}
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := config.Default()
		cfg.Classifier.Labels = []string{"A", "B", "C"}
		cfg.Classifier.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
		if _, err := Build(cfg, zaptest.NewLogger(t)); !errors.Is(err, classifier.ErrModelLoad) {
			t.Errorf("Build() error = %v, want ErrModelLoad", err)
		}
	})
}

func TestApp_SecondStreamIsRejected(t *testing.T) {
	env := newTestEnv(t, "")
	a := env.app

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		first := true
		result <- a.Stream(ctx, func([]byte) error {
			if first {
				first = false
				close(started)
			}
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream never produced a frame")
	}

	if !a.Busy() || !a.State().Streaming {
		t.Error("app should report streaming")
	}
	if err := a.Stream(context.Background(), func([]byte) error { return nil }); !errors.Is(err, ErrCameraBusy) {
		t.Errorf("second Stream() error = %v, want ErrCameraBusy", err)
	}

	cancel()
	if err := <-result; err != nil {
		t.Errorf("first Stream() error = %v", err)
	}
	if a.Busy() {
		t.Error("app still busy after the stream ended")
	}
	if env.camera.IsOpen() {
		t.Error("camera still open after the stream ended")
	}

	// The slot is free again.
	if err := streamFrames(t, a, 1); err != nil {
		t.Errorf("third Stream() error = %v", err)
	}
}

func TestApp_StreamJournalsSession(t *testing.T) {
	env := newTestEnv(t, "")

	if err := streamFrames(t, env.app, 5); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	sessions, err := env.app.Sessions(0)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}

	rec := sessions[0]
	if rec.Active() {
		t.Error("journaled session should be finished")
	}
	if rec.Frames != 5 {
		t.Errorf("Frames = %d, want 5", rec.Frames)
	}
	if rec.EndReason != "client disconnected" {
		t.Errorf("EndReason = %q", rec.EndReason)
	}
}

func TestApp_MessageFollowsSessions(t *testing.T) {
	env := newTestEnv(t, "")
	env.detector.SetHands([]detector.Hand{detector.HandAt(image.Rect(200, 150, 320, 330), 640, 480)})
	env.classifier.SetResult(1, 0.98)

	if got := env.app.Message(); got.Text != "" {
		t.Fatalf("Message() before any session = %q", got.Text)
	}

	messages, unsubscribe := env.app.SubscribeMessages()
	defer unsubscribe()

	var states []State
	env.app.OnChange(func(st State) { states = append(states, st) })

	if err := streamFrames(t, env.app, 3); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if got := env.app.Message().Text; got != "B" {
		t.Errorf("Message() = %q, want B", got)
	}

	select {
	case st := <-messages:
		if st.Text != "B" {
			t.Errorf("subscriber got %q, want B", st.Text)
		}
	case <-time.After(time.Second):
		t.Error("no message delivered to subscriber")
	}

	if len(states) < 2 {
		t.Fatalf("OnChange called %d times, want start and stop at least", len(states))
	}
	if !states[0].Streaming || states[len(states)-1].Streaming {
		t.Errorf("OnChange streaming states = first %v last %v", states[0].Streaming, states[len(states)-1].Streaming)
	}

	// A new session starts from an empty message.
	env.classifier.SetResult(classifier.NoLabel, 0)
	if err := streamFrames(t, env.app, 1); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := env.app.Message().Text; got != "" {
		t.Errorf("Message() in new session = %q, want empty", got)
	}
}

func TestApp_SetEnabledPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mudra.db")

	env := newTestEnv(t, dbPath)
	env.app.SetEnabled(false)
	if env.app.Enabled() {
		t.Fatal("Enabled() = true after SetEnabled(false)")
	}
	env.app.Close()

	reopened := newTestEnv(t, dbPath)
	if reopened.app.Enabled() {
		t.Error("recognition toggle was not restored from the store")
	}
}

func TestApp_CameraGoneEndsStream(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.cfg.Camera.MaxCaptureFailures = 3
	env.camera.FailWhen(func(int) bool { return true })

	// Rebuild so the pipeline picks up the smaller failure budget.
	a, err := New(env.app.cfg, env.app.deps, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = a.Stream(context.Background(), func([]byte) error { return nil })
	if !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Fatalf("Stream() error = %v, want ErrCaptureUnavailable", err)
	}

	sessions, _ := a.Sessions(1)
	if len(sessions) != 1 || sessions[0].EndReason != "camera unavailable" {
		t.Errorf("journal = %+v", sessions)
	}
}

func TestApp_Serve(t *testing.T) {
	env := newTestEnv(t, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.app.Serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(ShutdownTimeout):
		t.Fatal("Serve() did not return after cancel")
	}
}
