package classifier

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func TestResolve(t *testing.T) {
	labels := []string{"A", "B", "C"}

	tests := []struct {
		name      string
		probs     []float64
		min       float64
		wantIndex int
		wantLabel string
		wantErr   bool
	}{
		{
			name:      "clear winner",
			probs:     []float64{0.05, 0.9, 0.05},
			min:       0.5,
			wantIndex: 1,
			wantLabel: "B",
		},
		{
			name:      "below threshold",
			probs:     []float64{0.4, 0.35, 0.25},
			min:       0.5,
			wantIndex: NoLabel,
		},
		{
			name:      "exactly at threshold",
			probs:     []float64{0.5, 0.3, 0.2},
			min:       0.5,
			wantIndex: 0,
			wantLabel: "A",
		},
		{
			name:      "zero threshold always labels",
			probs:     []float64{0.1, 0.1, 0.2},
			wantIndex: 2,
			wantLabel: "C",
		},
		{
			name:    "width mismatch",
			probs:   []float64{0.5, 0.5},
			wantErr: true,
		},
		{
			name:    "nan score",
			probs:   []float64{0.5, nan(), 0.1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.probs, labels, tt.min)
			if tt.wantErr {
				if !errors.Is(err, ErrClassification) {
					t.Errorf("Resolve() error = %v, want ErrClassification", err)
				}
				if got.Found() {
					t.Errorf("Resolve() on error returned label %q", got.Label)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.Index != tt.wantIndex {
				t.Errorf("Index = %d, want %d", got.Index, tt.wantIndex)
			}
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
		})
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestMockClassifier(t *testing.T) {
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	m := NewMockClassifier([]string{"A", "B", "C"})

	got, err := m.Classify(canvas)
	if err != nil || got.Found() {
		t.Fatalf("unconfigured mock = %+v, %v; want no label", got, err)
	}

	m.SetResult(1, 0.95)
	got, err = m.Classify(canvas)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Index != 1 || got.Label != "B" || got.Confidence != 0.95 {
		t.Errorf("Classify() = %+v, want B @ 0.95", got)
	}

	m.SetError(ErrClassification)
	if _, err := m.Classify(canvas); !errors.Is(err, ErrClassification) {
		t.Errorf("Classify() error = %v, want ErrClassification", err)
	}

	m.SetFunc(func(call int) (Result, error) {
		return Result{Index: 2, Label: "C", Confidence: float64(call)}, nil
	})
	got, _ = m.Classify(canvas)
	if got.Label != "C" || got.Confidence != 3 {
		t.Errorf("scripted Classify() = %+v, want C on call 3", got)
	}

	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
}

func TestNewDNN_Errors(t *testing.T) {
	logger := zap.NewNop()

	t.Run("missing model", func(t *testing.T) {
		_, err := NewDNN(DNNOptions{ModelPath: filepath.Join(t.TempDir(), "model.onnx")}, []string{"A"}, logger)
		if !errors.Is(err, ErrModelLoad) {
			t.Errorf("NewDNN() error = %v, want ErrModelLoad", err)
		}
	})

	t.Run("no labels", func(t *testing.T) {
		_, err := NewDNN(DNNOptions{ModelPath: "model.onnx"}, nil, logger)
		if !errors.Is(err, ErrLabelMismatch) {
			t.Errorf("NewDNN() error = %v, want ErrLabelMismatch", err)
		}
	})
}
