package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrTimeout is returned when the helper does not answer a frame in time.
var ErrTimeout = errors.New("detector timed out")

const (
	scriptName = "mediapipe_service.py"
	// idleShutdown stops the helper after this long without frames.
	idleShutdown = 30 * time.Second
)

// MediaPipeDetector implements Detector using a Python MediaPipe helper process.
//
// Protocol: each frame is written to the helper's stdin as a 4-byte
// big-endian length followed by JPEG bytes; the helper answers with one JSON
// line {"hands":[{"points":[{x,y,z}...],"handedness":"Right","score":0.9}]}.
type MediaPipeDetector struct {
	config    Config
	script    string
	logger    *zap.Logger
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config, logger *zap.Logger) (*MediaPipeDetector, error) {
	script := config.Script
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", scriptName)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("detector script: %w", err)
	}
	if config.MaxHands <= 0 {
		config.MaxHands = DefaultConfig().MaxHands
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &MediaPipeDetector{
		config: config,
		script: script,
		logger: logger.Named("mediapipe"),
	}, nil
}

// Detect analyzes a frame and returns detected hands.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]Hand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	hands, err := d.exchange(buf.GetBytes(), frame.Cols(), frame.Rows())
	if err != nil {
		// A broken pipe leaves the helper unusable; restart it on the next frame.
		d.shutdown()
		return nil, err
	}

	d.resetIdleTimer()
	return hands, nil
}

// exchange performs one request/response round trip with the helper. The
// round trip runs on its own goroutine so a stalled helper cannot hold the
// caller past the timeout; on timeout the helper is killed.
func (d *MediaPipeDetector) exchange(data []byte, width, height int) ([]Hand, error) {
	type reply struct {
		line string
		err  error
	}

	stdin, stdout := d.stdin, d.stdout
	done := make(chan reply, 1)
	go func() {
		line, err := roundTrip(stdin, stdout, data)
		done <- reply{line, err}
	}()

	timeout := d.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var line string
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		line = r.line
	case <-timer.C:
		d.kill()
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}

	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("mediapipe: %s", response.Error)
	}

	n := min(len(response.Hands), d.config.MaxHands)
	result := make([]Hand, 0, n)
	for _, h := range response.Hands[:n] {
		result = append(result, h.toHand(width, height))
	}

	return result, nil
}

func roundTrip(w io.Writer, r *bufio.Reader, data []byte) (string, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return "", fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("write data: %w", err)
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// kill stops a helper that stopped answering. The caller restarts it
// through shutdown and ensureStarted.
func (d *MediaPipeDetector) kill() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}
	if err := d.cmd.Process.Kill(); err != nil {
		d.logger.Warn("kill mediapipe helper", zap.Error(err))
		return
	}
	d.logger.Warn("mediapipe helper stalled, killed", zap.Int("pid", d.cmd.Process.Pid))
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	python := d.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	d.cmd = exec.Command(python, d.script,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
	)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Helper logs go through zap so a crash leaves a trace.
	d.cmd.Stderr = zap.NewStdLog(d.logger).Writer()
	// Wait must not hang on a stderr copy held open by a killed helper.
	d.cmd.WaitDelay = time.Second

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.logger.Info("mediapipe helper started",
		zap.String("python", python),
		zap.String("script", d.script),
		zap.Int("pid", d.cmd.Process.Pid),
	)

	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	var err error
	if d.cmd != nil {
		err = d.cmd.Wait()
		d.logger.Info("mediapipe helper stopped", zap.Error(err))
	}
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findMediaPipeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", scriptName),
		filepath.Join("..", "scripts", scriptName),
		filepath.Join(execDir, "scripts", scriptName),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", scriptName),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h jsonHand) toHand(width, height int) Hand {
	hand := Hand{
		Handedness: h.Handedness,
		Score:      h.Score,
	}

	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		hand.Landmarks[i] = h.Points[i]
	}
	// Missing trailing points would pull the box to the origin.
	for i := len(h.Points); i > 0 && i < NumLandmarks; i++ {
		hand.Landmarks[i] = h.Points[len(h.Points)-1]
	}
	if len(h.Points) > 0 {
		hand.Box = BoundingBox(hand.Landmarks, width, height)
	}

	return hand
}
