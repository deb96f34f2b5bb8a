// Package accumulator turns a noisy stream of per-frame classifications into
// a stable, rate-limited text message.
package accumulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
)

// DefaultMinInterval is the debounce window between accepted updates.
const DefaultMinInterval = 500 * time.Millisecond

// Mode selects how an accepted label changes the text.
type Mode int

const (
	// ModeReplace sets the text to the latest accepted label.
	ModeReplace Mode = iota
	// ModeAppend concatenates accepted labels.
	ModeAppend
)

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "replace":
		return ModeReplace, nil
	case "append":
		return ModeAppend, nil
	}
	return ModeReplace, fmt.Errorf("unknown message mode %q", s)
}

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "replace"
}

// State is a snapshot of the accumulated message.
// A zero LastUpdate means nothing was accepted yet.
type State struct {
	Text       string    `json:"text"`
	LastUpdate time.Time `json:"last_update"`
}

// Accumulator holds the message for one stream session. Observe is called by
// the session loop; Snapshot and Subscribe are safe from any goroutine.
type Accumulator struct {
	minInterval time.Duration
	mode        Mode

	mu    sync.RWMutex
	state State
	subs  map[chan State]struct{}
}

// New creates an empty accumulator. A negative interval is treated as zero.
func New(minInterval time.Duration, mode Mode) *Accumulator {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Accumulator{
		minInterval: minInterval,
		mode:        mode,
		subs:        make(map[chan State]struct{}),
	}
}

// Observe applies one classification at time now and reports whether it was
// accepted. Absent results never change state. A labelled result is accepted
// when no update happened yet or at least the minimum interval has passed
// since the last accepted one; an accepted result always refreshes
// LastUpdate, even when the label is unchanged.
func (a *Accumulator) Observe(result classifier.Result, now time.Time) bool {
	if !result.Found() {
		return false
	}

	a.mu.Lock()
	if !a.state.LastUpdate.IsZero() && now.Sub(a.state.LastUpdate) < a.minInterval {
		a.mu.Unlock()
		return false
	}

	switch a.mode {
	case ModeAppend:
		a.state.Text += result.Label
	default:
		a.state.Text = result.Label
	}
	a.state.LastUpdate = now
	snapshot := a.state

	for ch := range a.subs {
		// Keep only the newest snapshot for slow readers.
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	a.mu.Unlock()

	return true
}

// Snapshot returns the current state.
func (a *Accumulator) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Text returns the current message text.
func (a *Accumulator) Text() string {
	return a.Snapshot().Text
}

// Subscribe returns a channel that receives the state after every accepted
// update, and a function that removes the subscription and closes the channel.
func (a *Accumulator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	a.mu.Lock()
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, ch)
			close(ch)
			a.mu.Unlock()
		})
	}
	return ch, cancel
}
