package app

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

// State is the capture state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
)

// LabelSequence is an append-only list of recognized labels. Readers get
// copies.
type LabelSequence struct {
	mu     sync.RWMutex
	labels []string
}

// Append adds label and returns the new length.
func (l *LabelSequence) Append(label string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels = append(l.labels, label)
	return len(l.labels)
}

// Snapshot returns a copy of the labels.
func (l *LabelSequence) Snapshot() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.labels...)
}

func (l *LabelSequence) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.labels)
}

func (l *LabelSequence) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels = nil
}

// CaptureSession holds everything one device's capture needs: the open
// camera, the loop's cancel function, the label sequence, the last
// translation and the last cycle error. Every start bumps the epoch so a
// cycle started under an older epoch can tell its result is stale.
type CaptureSession struct {
	deviceID int
	labels   LabelSequence

	mu          sync.Mutex
	id          string
	state       State
	epoch       uint64
	camera      capture.Camera
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	lastErr     error
	translation *Translation
}

func newCaptureSession(deviceID int) *CaptureSession {
	return &CaptureSession{deviceID: deviceID, state: StateIdle}
}

// ID returns the id of the current or most recent run.
func (s *CaptureSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *CaptureSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capturing reports whether the loop is running.
func (s *CaptureSession) Capturing() bool { return s.State() == StateCapturing }

// Signs returns a snapshot of the label sequence.
func (s *CaptureSession) Signs() []string { return s.labels.Snapshot() }

// LastError returns the most recent cycle error, or nil.
func (s *CaptureSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when the loop of the current run exits. It is nil before
// the first start.
func (s *CaptureSession) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// begin moves the session to capturing and returns the new epoch.
func (s *CaptureSession) begin(id string, cam capture.Camera, cancel context.CancelFunc) (uint64, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.id = id
	s.state = StateCapturing
	s.camera = cam
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	return s.epoch, s.done
}

type stopped struct {
	id      string
	camera  capture.Camera
	cancel  context.CancelFunc
	started time.Time
	signs   []string
	lastErr error
}

// end moves the session to idle and invalidates the running epoch.
func (s *CaptureSession) end() (stopped, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCapturing {
		return stopped{}, false
	}
	s.epoch++
	s.state = StateIdle
	out := stopped{
		id:      s.id,
		camera:  s.camera,
		cancel:  s.cancel,
		started: s.startedAt,
		signs:   s.labels.Snapshot(),
		lastErr: s.lastErr,
	}
	s.camera = nil
	s.cancel = nil
	return out, true
}

func (s *CaptureSession) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCapturing && s.epoch == epoch
}

// appendLabel appends only while epoch is still running.
func (s *CaptureSession) appendLabel(epoch uint64, label string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCapturing || s.epoch != epoch {
		return 0, false
	}
	return s.labels.Append(label), true
}

// recordError stores err as the last error only while epoch is running.
func (s *CaptureSession) recordError(epoch uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCapturing || s.epoch != epoch {
		return false
	}
	s.lastErr = err
	return true
}

func (s *CaptureSession) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *CaptureSession) setTranslation(t *Translation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translation = t
}

func (s *CaptureSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels.Clear()
	s.translation = nil
	s.lastErr = nil
}

type sessionSnapshot struct {
	id          string
	state       State
	signs       int
	lastErr     error
	translation *Translation
}

func (s *CaptureSession) snapshot() sessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionSnapshot{
		id:          s.id,
		state:       s.state,
		signs:       s.labels.Len(),
		lastErr:     s.lastErr,
		translation: s.translation,
	}
}
