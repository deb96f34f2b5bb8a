package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/stream"
)

// handleVideoFeed streams annotated frames until the client goes away.
// Only one client holds the camera; others get 503.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
		return
	}

	sw := stream.NewWriter(w)
	started := false

	err := s.config.Backend.Stream(r.Context(), func(jpeg []byte) error {
		if !started {
			stream.SetHeaders(w.Header())
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return sw.WriteFrame(jpeg)
	})

	switch {
	case errors.Is(err, app.ErrCameraBusy):
		w.Header().Set("Retry-After", "5")
		http.Error(w, "camera is busy with another viewer", http.StatusServiceUnavailable)
	case err != nil && !started:
		s.logger.Warn("stream failed before the first frame", zap.Error(err))
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
	case err != nil:
		s.logger.Info("stream ended", zap.Int("frames", sw.Parts()), zap.Error(err))
	default:
		s.logger.Info("stream closed", zap.Int("frames", sw.Parts()))
	}
}
