package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/display"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/tray"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the page and the annotated camera stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return wrapErr(err, "init logger")
			}
			defer logger.Sync()

			cfg, err := opts.load(cmd)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				return err
			}

			// Model, labels and config problems stop us before we listen.
			application, err := app.Build(cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer func() {
				if err := application.Close(); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				logger.Error("listen failed", zap.String("addr", cfg.Listen), zap.Error(err))
				return wrapErr(err, "listen")
			}

			srv := server.New(server.Config{
				Backend:   application,
				StaticDir: cfg.StaticDir,
				Logger:    logger,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if !cfg.Tray {
				return serveResult(application.Serve(ctx, ln, srv))
			}

			// The tray owns the main goroutine.
			t := tray.New()
			t.SetEnabled(application.Enabled())
			t.OnToggle(application.SetEnabled)
			t.OnOpen(func() { openBrowser(pageURL(ln.Addr()), logger) })
			t.OnQuit(cancel)
			application.OnChange(func(st app.State) {
				t.SetEnabled(st.Enabled)
				t.SetStreaming(st.Streaming)
				t.SetMessage(st.Message.Text)
			})

			done := make(chan error, 1)
			go func() {
				done <- application.Serve(ctx, ln, srv)
				t.Quit()
			}()
			t.Run()
			cancel()

			return serveResult(<-done)
		},
	}
}

// serveResult treats a quit from the display window as a clean exit.
func serveResult(err error) error {
	if errors.Is(err, display.ErrQuit) {
		return nil
	}
	return err
}

func pageURL(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok && (tcp.IP == nil || tcp.IP.IsUnspecified()) {
		return fmt.Sprintf("http://localhost:%d/", tcp.Port)
	}
	return "http://" + addr.String() + "/"
}

func openBrowser(url string, logger *zap.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn("open browser", zap.String("url", url), zap.Error(err))
		return
	}
	go cmd.Wait()
}
