// Package tray provides a system tray toggle for capture and shows the most
// recent sign.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle    func(capturing bool) error
	onTranslate func()
	onReset     func()
	onSettings  func()
	onQuit      func()
	capturing   bool
	lastSign    string
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuLastSign *systray.MenuItem
}

// New creates a new Tray with capture off.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback invoked when capture is switched on or off. If
// it returns an error the toggle is reverted.
func (t *Tray) OnToggle(fn func(capturing bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnTranslate sets the callback for the "Speak sentence" item.
func (t *Tray) OnTranslate(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTranslate = fn
}

// OnReset sets the callback for the "Clear signs" item.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra sign-to-voice")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.capturing), "Start or stop capture")
	systray.AddSeparator()
	t.menuLastSign = systray.AddMenuItem(lastSignTitle(t.lastSign), "Last recognized sign")
	t.menuLastSign.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuTranslate := systray.AddMenuItem("Speak sentence", "Translate the signs and read them aloud")
	menuReset := systray.AddMenuItem("Clear signs", "Discard the recognized signs")
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuTranslate.ClickedCh:
				t.call(func() func() { return t.onTranslate })
			case <-menuReset.ClickedCh:
				t.call(func() func() { return t.onReset })
			case <-menuSettings.ClickedCh:
				t.call(func() func() { return t.onSettings })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleToggle flips the capture state and asks the callback to apply it.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	want := !t.capturing
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(want); err != nil {
			return
		}
	}
	t.SetCapturing(want)
}

// call runs the callback returned by get, reading it under the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// SetCapturing updates the toggle to reflect the capture state, including
// changes made outside the tray.
func (t *Tray) SetCapturing(capturing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capturing = capturing
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(capturing))
	}
}

// SetLastSign updates the last sign display in the menu.
func (t *Tray) SetLastSign(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSign = label
	if t.menuLastSign != nil {
		t.menuLastSign.SetTitle(lastSignTitle(label))
	}
}

// IsCapturing returns the state shown by the toggle.
func (t *Tray) IsCapturing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.capturing
}

// LastSign returns the label shown in the menu.
func (t *Tray) LastSign() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSign
}

func toggleTitle(capturing bool) string {
	if capturing {
		return "● Capturing"
	}
	return "○ Stopped"
}

func lastSignTitle(label string) string {
	if label == "" {
		return "Last: none"
	}
	return "Last: " + label
}
