// Package config loads and validates the startup configuration for mudra.
//
// Configuration is fixed at process start. Values come from an optional YAML
// file, then MUDRA_* environment variables (a .env file is honoured), then
// command-line flags applied by the caller.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration cannot be used to start the service.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level mudra configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	StaticDir  string           `yaml:"static_dir"`
	DBPath     string           `yaml:"db_path"`
	Camera     CameraConfig     `yaml:"camera"`
	Detector   DetectorConfig   `yaml:"detector"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Message    MessageConfig    `yaml:"message"`
	Overlay    OverlayConfig    `yaml:"overlay"`
	Stream     StreamConfig     `yaml:"stream"`
	Display    bool             `yaml:"display"`
	Tray       bool             `yaml:"tray"`
}

// CameraConfig controls the frame source.
type CameraConfig struct {
	Index              int           `yaml:"index"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	FPS                int           `yaml:"fps"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	MaxCaptureFailures int           `yaml:"max_capture_failures"`
	MotionThreshold    float64       `yaml:"motion_threshold"` // 0 disables the motion gate
}

// DetectorConfig controls the external hand localizer.
type DetectorConfig struct {
	Script        string        `yaml:"script"`
	Python        string        `yaml:"python"`
	MaxHands      int           `yaml:"max_hands"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"` // per-frame helper round trip
}

// NormalizerConfig controls region cropping.
type NormalizerConfig struct {
	Offset  int  `yaml:"offset"`
	ImgSize int  `yaml:"img_size"`
	Reject  bool `yaml:"reject_out_of_bounds"` // reject instead of clamping
}

// ClassifierConfig points at the model artifact and its label table.
type ClassifierConfig struct {
	ModelPath     string   `yaml:"model_path"`
	ModelConfig   string   `yaml:"model_config"`
	LabelsPath    string   `yaml:"labels_path"`
	Labels        []string `yaml:"labels"`
	MinConfidence float64  `yaml:"min_confidence"`
	InputSize     int      `yaml:"input_size"`
}

// MessageConfig controls the debounced accumulator.
type MessageConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Mode     string        `yaml:"mode"` // replace | append
}

// OverlayConfig controls text drawing.
type OverlayConfig struct {
	Prefix   string `yaml:"prefix"`
	MaxWidth int    `yaml:"max_width"`
}

// StreamConfig controls frame encoding.
type StreamConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 15
	}
	if c.Camera.RetryDelay <= 0 {
		c.Camera.RetryDelay = 50 * time.Millisecond
	}
	if c.Camera.MaxRetryDelay <= 0 {
		c.Camera.MaxRetryDelay = time.Second
	}
	if c.Camera.MaxCaptureFailures <= 0 {
		c.Camera.MaxCaptureFailures = 100
	}
	if c.Detector.MaxHands <= 0 {
		c.Detector.MaxHands = 2
	}
	if c.Detector.MinConfidence <= 0 {
		c.Detector.MinConfidence = 0.7
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 2 * time.Second
	}
	if c.Normalizer.Offset == 0 {
		c.Normalizer.Offset = 20
	}
	if c.Normalizer.ImgSize == 0 {
		c.Normalizer.ImgSize = 300
	}
	if c.Classifier.InputSize <= 0 {
		c.Classifier.InputSize = 224
	}
	if c.Message.Debounce == 0 {
		c.Message.Debounce = 500 * time.Millisecond
	}
	if c.Message.Mode == "" {
		c.Message.Mode = "replace"
	}
	if c.Overlay.Prefix == "" {
		c.Overlay.Prefix = "Text Message: "
	}
	if c.Overlay.MaxWidth <= 0 {
		c.Overlay.MaxWidth = 600
	}
	if c.Stream.JPEGQuality <= 0 {
		c.Stream.JPEGQuality = 90
	}
}

// LoadFile reads a YAML configuration file over the defaults, so keys the
// file sets (zero values included) win. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}
	return cfg, nil
}

// Load reads the optional YAML file, loads envFile (if present) into the
// process environment and applies MUDRA_* overrides.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from MUDRA_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
			}
			*dst = n
		}
		return nil
	}

	str("MUDRA_LISTEN", &c.Listen)
	str("MUDRA_DB_PATH", &c.DBPath)
	str("MUDRA_MODEL_PATH", &c.Classifier.ModelPath)
	str("MUDRA_LABELS_PATH", &c.Classifier.LabelsPath)
	str("MUDRA_DETECTOR_SCRIPT", &c.Detector.Script)
	str("MUDRA_PYTHON", &c.Detector.Python)
	if err := num("MUDRA_CAMERA_INDEX", &c.Camera.Index); err != nil {
		return err
	}
	if err := num("MUDRA_CAMERA_WIDTH", &c.Camera.Width); err != nil {
		return err
	}
	if err := num("MUDRA_CAMERA_HEIGHT", &c.Camera.Height); err != nil {
		return err
	}
	if v, ok := lookup("MUDRA_DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MUDRA_DEBOUNCE=%q: %v", ErrInvalid, v, err)
		}
		c.Message.Debounce = d
	}
	return nil
}

// Validate reports whether the configuration can start the service.
func (c *Config) Validate() error {
	var problems []string

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		problems = append(problems, "camera width and height must be positive")
	}
	if c.Normalizer.ImgSize <= 0 {
		problems = append(problems, "normalizer img_size must be positive")
	}
	if c.Normalizer.Offset < 0 {
		problems = append(problems, "normalizer offset must not be negative")
	}
	if c.Detector.Timeout < 0 {
		problems = append(problems, "detector timeout must not be negative")
	}
	if c.Message.Debounce < 0 {
		problems = append(problems, "message debounce must not be negative")
	}
	if c.Message.Mode != "replace" && c.Message.Mode != "append" {
		problems = append(problems, fmt.Sprintf("message mode %q must be replace or append", c.Message.Mode))
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		problems = append(problems, "classifier min_confidence must be within [0, 1]")
	}
	if len(c.Classifier.Labels) == 0 && c.Classifier.LabelsPath == "" {
		problems = append(problems, "classifier needs labels or labels_path")
	}
	if c.Stream.JPEGQuality > 100 {
		problems = append(problems, "stream jpeg_quality must be at most 100")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ResolveLabels returns the label table: the inline list when set,
// otherwise the contents of LabelsPath.
func (c *Config) ResolveLabels() ([]string, error) {
	if len(c.Classifier.Labels) > 0 {
		return c.Classifier.Labels, nil
	}
	return ReadLabels(c.Classifier.LabelsPath)
}

// ReadLabels reads a label file with one label per line.
// Line order is model output order. Teachable Machine style "0 A" lines are
// accepted and the leading index is stripped.
func ReadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open labels: %v", ErrInvalid, err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if idx, rest, ok := strings.Cut(line, " "); ok {
			if n, err := strconv.Atoi(idx); err == nil && n == len(labels) {
				line = strings.TrimSpace(rest)
			}
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read labels: %v", ErrInvalid, err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: label file %s is empty", ErrInvalid, path)
	}
	return labels, nil
}
