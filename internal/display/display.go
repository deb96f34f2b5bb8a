// Package display mirrors the annotated stream into a local OpenCV window.
package display

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrQuit is returned by Run when the user asks to stop from the window.
var ErrQuit = errors.New("display: quit requested")

// DefaultTitle is the window title.
const DefaultTitle = "mudra"

// Window shows broadcast JPEG frames. It is created lazily on the first frame.
type Window struct {
	title  string
	logger *zap.Logger
	window *gocv.Window
}

// New creates a display sink. Nothing is opened until frames arrive.
func New(title string, logger *zap.Logger) *Window {
	if title == "" {
		title = DefaultTitle
	}
	return &Window{title: title, logger: logger.Named("display")}
}

// Run shows frames until ctx is done or frames is closed (nil is returned),
// or "q"/Esc is pressed in the window (ErrQuit is returned).
func (w *Window) Run(ctx context.Context, frames <-chan []byte) error {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-frames:
			if !ok {
				return nil
			}
			if err := w.show(data); err != nil {
				w.logger.Debug("skip frame", zap.Error(err))
				continue
			}
			if IsQuitKey(w.window.WaitKey(1)) {
				w.logger.Info("quit requested from window")
				return ErrQuit
			}
		}
	}
}

func (w *Window) show(data []byte) error {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return err
	}
	defer mat.Close()
	if mat.Empty() {
		return errors.New("undecodable frame")
	}

	if w.window == nil {
		w.window = gocv.NewWindow(w.title)
		w.logger.Info("window opened", zap.String("title", w.title))
	}
	w.window.IMShow(mat)
	return nil
}

func (w *Window) close() {
	if w.window != nil {
		w.window.Close()
		w.window = nil
	}
}

// IsQuitKey reports whether a WaitKey result asks to stop.
func IsQuitKey(key int) bool {
	switch key & 0xFF {
	case 'q', 'Q', 27:
		return key >= 0
	}
	return false
}
