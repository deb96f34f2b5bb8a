package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mudra/internal/display"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Serve serves handler on ln until ctx is done, then shuts down. With the
// display enabled it also mirrors frames to a local window; closing that
// window with "q" stops Serve with display.ErrQuit.
func (a *App) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the service stops, not only when clients leave.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Display {
		g.Go(func() error {
			frames, unsubscribe := a.Frames(2)
			defer unsubscribe()
			return display.New("mudra", a.logger).Run(gctx, frames)
		})
	}

	return g.Wait()
}
