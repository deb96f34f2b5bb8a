// Package tray provides the system tray menu for mudra.
package tray

import (
	"sync"
	"unicode/utf8"

	"github.com/getlantern/systray"
)

// maxMessageRunes bounds the message shown in the menu.
const maxMessageRunes = 32

// Tray is the system tray menu: current message, camera state, a
// recognition toggle, a shortcut to the page and quit.
type Tray struct {
	onToggle func(enabled bool)
	onOpen   func()
	onQuit   func()

	enabled   bool
	streaming bool
	message   string
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuMessage *systray.MenuItem
	menuCamera  *systray.MenuItem
}

// New creates a Tray with recognition enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback for the recognition toggle.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback for "Open Page...".
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback for "Quit".
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It blocks until Quit is called and must run on the
// main goroutine on macOS.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra hand sign recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle recognition")
	systray.AddSeparator()

	t.menuMessage = systray.AddMenuItem(messageTitle(t.message), "Current message")
	t.menuMessage.Disable()
	t.menuCamera = systray.AddMenuItem(cameraTitle(t.streaming), "Camera state")
	t.menuCamera.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Page...", "Open the stream page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetEnabled syncs the toggle with a change made elsewhere. It does not
// fire the toggle callback.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// SetMessage updates the message line.
func (t *Tray) SetMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.message = text
	if t.menuMessage != nil {
		t.menuMessage.SetTitle(messageTitle(text))
	}
}

// SetStreaming updates the camera line.
func (t *Tray) SetStreaming(streaming bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streaming = streaming
	if t.menuCamera != nil {
		t.menuCamera.SetTitle(cameraTitle(streaming))
	}
}

// IsEnabled returns the current toggle state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Recognition on"
	}
	return "○ Recognition off"
}

func cameraTitle(streaming bool) string {
	if streaming {
		return "Camera: streaming"
	}
	return "Camera: idle"
}

func messageTitle(text string) string {
	if text == "" {
		return "Message: none"
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		r := []rune(text)
		text = string(r[len(r)-maxMessageRunes:])
		return "Message: …" + text
	}
	return "Message: " + text
}
