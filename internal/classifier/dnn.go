package classifier

import (
	"fmt"
	"image"
	"os"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DefaultInputSize is the square model input edge (Teachable Machine exports use 224).
const DefaultInputSize = 224

// DNNOptions configures a DNNClassifier.
type DNNOptions struct {
	// ModelPath is the model artifact (.onnx, .pb, .caffemodel, ...).
	ModelPath string
	// ConfigPath is the optional network description for formats that need one.
	ConfigPath string
	// InputSize is the square input edge expected by the model.
	InputSize int
	// MinConfidence is the score below which no label is reported.
	MinConfidence float64
}

// DNNClassifier runs an image classification network through OpenCV's dnn module.
// Preprocessing scales pixels to [-1, 1] and swaps BGR to RGB.
type DNNClassifier struct {
	net    gocv.Net
	opts   DNNOptions
	labels []string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewDNN loads the model and checks its output width against labels with a
// probe forward pass.
func NewDNN(opts DNNOptions, labels []string, logger *zap.Logger) (*DNNClassifier, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty label table", ErrLabelMismatch)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	net := gocv.ReadNet(opts.ModelPath, opts.ConfigPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: cannot read %s", ErrModelLoad, opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	c := &DNNClassifier{
		net:    net,
		opts:   opts,
		labels: labels,
		logger: logger.Named("classifier"),
	}

	probe := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), opts.InputSize, opts.InputSize, gocv.MatTypeCV8UC3)
	defer probe.Close()

	scores, err := c.forward(probe)
	if err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: probe: %v", ErrModelLoad, err)
	}
	if len(scores) != len(labels) {
		net.Close()
		return nil, fmt.Errorf("%w: model has %d outputs, %d labels", ErrLabelMismatch, len(scores), len(labels))
	}

	c.logger.Info("model loaded",
		zap.String("model", opts.ModelPath),
		zap.Int("labels", len(labels)),
		zap.Int("input_size", opts.InputSize),
	)

	return c, nil
}

// Classify runs the network on canvas.
func (c *DNNClassifier) Classify(canvas gocv.Mat) (Result, error) {
	if canvas.Empty() {
		return None(), fmt.Errorf("%w: empty canvas", ErrClassification)
	}

	scores, err := c.forward(canvas)
	if err != nil {
		return None(), err
	}
	return Resolve(scores, c.labels, c.opts.MinConfidence)
}

func (c *DNNClassifier) forward(img gocv.Mat) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := image.Pt(c.opts.InputSize, c.opts.InputSize)
	blob := gocv.BlobFromImage(img, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("%w: empty network output", ErrClassification)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrClassification, err)
	}

	scores := make([]float64, len(data))
	for i, v := range data {
		scores[i] = float64(v)
	}
	return scores, nil
}

// Labels returns the label table.
func (c *DNNClassifier) Labels() []string {
	return c.labels
}

// Close releases the network.
func (c *DNNClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
