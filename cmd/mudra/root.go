package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/config"
)

// Version is the application version.
const Version = "0.1.0"

// options are the flags shared by all subcommands.
type options struct {
	configPath string
	envFile    string
	debug      bool

	listen    string
	camera    int
	width     int
	height    int
	model     string
	labels    string
	debounce  time.Duration
	appendMsg bool
	dbPath    string
	noJournal bool
	display   bool
	tray      bool
	staticDir string
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "mudra",
		Short:         "Live hand sign recognition over an MJPEG stream",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with MUDRA_* variables")
	pf.BoolVar(&opts.debug, "debug", false, "development logging")
	pf.StringVar(&opts.listen, "listen", "", "HTTP listen address (default :8080)")
	pf.IntVar(&opts.camera, "camera", 0, "camera device index")
	pf.IntVar(&opts.width, "width", 0, "requested capture width (default 640)")
	pf.IntVar(&opts.height, "height", 0, "requested capture height (default 480)")
	pf.StringVar(&opts.model, "model", "", "classifier model file")
	pf.StringVar(&opts.labels, "labels", "", "label file, one label per line in model output order")
	pf.DurationVar(&opts.debounce, "debounce", 0, "minimum time between accepted labels (default 500ms)")
	pf.BoolVar(&opts.appendMsg, "append", false, "append accepted labels instead of replacing the message")
	pf.StringVar(&opts.dbPath, "db", "", "session journal database (default ~/.mudra/mudra.db)")
	pf.BoolVar(&opts.noJournal, "no-journal", false, "do not record stream sessions")
	pf.BoolVar(&opts.display, "display", false, "mirror the stream to a local window (q quits)")
	pf.BoolVar(&opts.tray, "tray", false, "show a system tray menu")
	pf.StringVar(&opts.staticDir, "static", "", "directory served under /static/")

	serve := newServeCmd(opts)
	root.AddCommand(serve, newCheckCmd(opts))
	// Running "mudra" alone serves.
	root.RunE = serve.RunE

	return root
}

// load builds the configuration: file, then env, then changed flags.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = o.listen
	}
	if flags.Changed("camera") {
		cfg.Camera.Index = o.camera
	}
	if flags.Changed("width") {
		cfg.Camera.Width = o.width
	}
	if flags.Changed("height") {
		cfg.Camera.Height = o.height
	}
	if flags.Changed("model") {
		cfg.Classifier.ModelPath = o.model
	}
	if flags.Changed("labels") {
		cfg.Classifier.LabelsPath = o.labels
		cfg.Classifier.Labels = nil
	}
	if flags.Changed("debounce") {
		cfg.Message.Debounce = o.debounce
	}
	if flags.Changed("append") && o.appendMsg {
		cfg.Message.Mode = "append"
	}
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("display") {
		cfg.Display = o.display
	}
	if flags.Changed("tray") {
		cfg.Tray = o.tray
	}
	if flags.Changed("static") {
		cfg.StaticDir = o.staticDir
	}

	if o.noJournal {
		cfg.DBPath = ""
	} else if cfg.DBPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DBPath = filepath.Join(home, ".mudra", "mudra.db")
		}
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = findWebDir()
	}

	return cfg, nil
}

func (o *options) logger() (*zap.Logger, error) {
	if o.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// findWebDir searches "web", "../web" and ~/.mudra/web for static files.
func findWebDir() string {
	candidates := []string{"web", filepath.Join("..", "web")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mudra", "web"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func wrapErr(err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
