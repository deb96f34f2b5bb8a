package accumulator

import (
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return base.Add(time.Duration(seconds * float64(time.Second)))
}

func label(index int, name string) classifier.Result {
	return classifier.Result{Index: index, Label: name, Confidence: 0.99}
}

func TestObserve_Debounce(t *testing.T) {
	acc := New(DefaultMinInterval, ModeReplace)

	steps := []struct {
		t        float64
		result   classifier.Result
		want     string
		accepted bool
	}{
		{0.0, label(0, "A"), "A", true},
		{0.3, label(1, "B"), "A", false},
		{0.6, label(2, "C"), "C", true},
	}

	for _, s := range steps {
		got := acc.Observe(s.result, at(s.t))
		if got != s.accepted {
			t.Errorf("Observe(%s @ %.1f) = %v, want %v", s.result.Label, s.t, got, s.accepted)
		}
		if text := acc.Text(); text != s.want {
			t.Errorf("after %s @ %.1f text = %q, want %q", s.result.Label, s.t, text, s.want)
		}
	}
}

func TestObserve_AbsentResult(t *testing.T) {
	acc := New(DefaultMinInterval, ModeReplace)
	acc.Observe(label(0, "A"), at(0))

	if acc.Observe(classifier.None(), at(5)) {
		t.Error("Observe(None) accepted")
	}
	s := acc.Snapshot()
	if s.Text != "A" || !s.LastUpdate.Equal(at(0)) {
		t.Errorf("state = %+v, want A @ 0", s)
	}
}

func TestObserve_RefreshesTimestamp(t *testing.T) {
	acc := New(DefaultMinInterval, ModeReplace)

	acc.Observe(label(1, "B"), at(0))
	if !acc.Observe(label(1, "B"), at(0.7)) {
		t.Fatal("identical label past the interval was suppressed")
	}
	if got := acc.Snapshot().LastUpdate; !got.Equal(at(0.7)) {
		t.Errorf("LastUpdate = %v, want %v", got, at(0.7))
	}

	// The window now runs from 0.7, not 0.
	if acc.Observe(label(0, "A"), at(1.1)) {
		t.Error("event 0.4s after the refresh was accepted")
	}
}

func TestObserve_EndToEndScenario(t *testing.T) {
	acc := New(DefaultMinInterval, ModeReplace)
	always := label(1, "B")

	if acc.Text() != "" {
		t.Fatalf("initial text = %q, want empty", acc.Text())
	}

	times := []float64{0.0, 0.1, 0.2, 0.6}
	wantAccepted := []bool{true, false, false, true}

	for i, ts := range times {
		if got := acc.Observe(always, at(ts)); got != wantAccepted[i] {
			t.Errorf("frame %d @ %.1f accepted = %v, want %v", i, ts, got, wantAccepted[i])
		}
		if acc.Text() != "B" {
			t.Errorf("frame %d text = %q, want B", i, acc.Text())
		}
	}
}

func TestObserve_AppendMode(t *testing.T) {
	acc := New(DefaultMinInterval, ModeAppend)

	acc.Observe(label(0, "A"), at(0))
	acc.Observe(label(1, "B"), at(0.2))
	acc.Observe(label(1, "B"), at(0.5))
	acc.Observe(label(2, "C"), at(1.0))

	if got := acc.Text(); got != "ABC" {
		t.Errorf("Text() = %q, want ABC", got)
	}
}

func TestObserve_ZeroInterval(t *testing.T) {
	acc := New(0, ModeReplace)

	acc.Observe(label(0, "A"), at(0))
	if !acc.Observe(label(1, "B"), at(0)) {
		t.Error("zero interval suppressed a same-instant event")
	}
}

func TestSubscribe(t *testing.T) {
	acc := New(DefaultMinInterval, ModeReplace)
	ch, cancel := acc.Subscribe()
	defer cancel()

	acc.Observe(label(0, "A"), at(0))
	acc.Observe(label(2, "C"), at(1))

	select {
	case s := <-ch:
		if s.Text != "C" {
			t.Errorf("subscriber got %q, want newest C", s.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	acc.Observe(label(1, "B"), at(2))
	if s, ok := <-ch; ok {
		t.Errorf("cancelled subscriber got %+v", s)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeReplace, false},
		{"replace", ModeReplace, false},
		{"append", ModeAppend, false},
		{"shuffle", ModeReplace, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}
