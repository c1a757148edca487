package tray

import (
	"errors"
	"testing"
)

func TestTray_Toggle(t *testing.T) {
	t.Run("applies state when callback succeeds", func(t *testing.T) {
		tr := New()
		var got []bool
		tr.OnToggle(func(capturing bool) error {
			got = append(got, capturing)
			return nil
		})

		tr.handleToggle()
		if !tr.IsCapturing() {
			t.Error("expected capturing after first toggle")
		}
		tr.handleToggle()
		if tr.IsCapturing() {
			t.Error("expected stopped after second toggle")
		}
		if len(got) != 2 || !got[0] || got[1] {
			t.Errorf("callback calls = %v, want [true false]", got)
		}
	})

	t.Run("reverts when callback fails", func(t *testing.T) {
		tr := New()
		tr.OnToggle(func(bool) error { return errors.New("camera denied") })

		tr.handleToggle()
		if tr.IsCapturing() {
			t.Error("toggle should not change state on error")
		}
	})

	t.Run("works without callback", func(t *testing.T) {
		tr := New()
		tr.handleToggle()
		if !tr.IsCapturing() {
			t.Error("expected capturing")
		}
	})
}

func TestTray_SetLastSign(t *testing.T) {
	tr := New()
	if tr.LastSign() != "" {
		t.Errorf("initial last sign = %q", tr.LastSign())
	}
	tr.SetLastSign("hello")
	if tr.LastSign() != "hello" {
		t.Errorf("last sign = %q, want hello", tr.LastSign())
	}
}

func TestTray_Callbacks(t *testing.T) {
	tr := New()
	var translated, reset bool
	tr.OnTranslate(func() { translated = true })
	tr.OnReset(func() { reset = true })

	tr.call(func() func() { return tr.onTranslate })
	tr.call(func() func() { return tr.onReset })
	tr.call(func() func() { return tr.onSettings })

	if !translated || !reset {
		t.Errorf("translated = %v, reset = %v", translated, reset)
	}
}

func TestTitles(t *testing.T) {
	if toggleTitle(true) != "● Capturing" || toggleTitle(false) != "○ Stopped" {
		t.Error("unexpected toggle titles")
	}
	if lastSignTitle("") != "Last: none" || lastSignTitle("yes") != "Last: yes" {
		t.Error("unexpected last sign titles")
	}
}
