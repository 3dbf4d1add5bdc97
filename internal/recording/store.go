// internal/recording/store.go
package recording

import (
	"sync"

	"go.uber.org/zap"
)

// PickingType names the element-picking mode currently active in the page, if any.
type PickingType string

const (
	PickingNone  PickingType = ""
	PickingDOM   PickingType = "DOM"
	PickingImage PickingType = "Image"
)

// Gate exposes the externally-owned switches consulted on every admission.
type Gate interface {
	RecordingEnabled() bool
	PickingActive() bool
}

// MessageLog is the ordered log the coalescer writes into. Update runs fn as one
// atomic read-decide-write step; no other mutation is observable while it runs.
// If fn returns an error the log is left unchanged.
type MessageLog interface {
	Update(fn func(messages []Message) ([]Message, error)) error
}

// Store holds the recorded log together with the recording and picking flags.
// It notifies subscribers after every change.
type Store struct {
	logger *zap.Logger

	mu          sync.Mutex
	messages    []Message
	recording   bool
	picking     PickingType
	subscribers map[chan struct{}]struct{}
}

// NewStore creates an empty store with recording disabled.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:      logger.Named("store"),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// SetRecording toggles interaction recording.
func (s *Store) SetRecording(enabled bool) {
	s.mu.Lock()
	changed := s.recording != enabled
	s.recording = enabled
	s.mu.Unlock()
	if changed {
		s.logger.Info("Recording state changed.", zap.Bool("recording", enabled))
		s.notify()
	}
}

func (s *Store) RecordingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// SetPicking records the active picking mode; PickingNone clears it.
func (s *Store) SetPicking(p PickingType) {
	s.mu.Lock()
	changed := s.picking != p
	s.picking = p
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) PickingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.picking != PickingNone
}

// Update implements MessageLog.
func (s *Store) Update(fn func(messages []Message) ([]Message, error)) error {
	s.mu.Lock()
	current := make([]Message, len(s.messages))
	copy(current, s.messages)
	next, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.messages = next
	s.mu.Unlock()

	s.notify()
	return nil
}

// Messages returns a copy of the log.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Drain removes and returns the oldest n messages. n <= 0 drains everything.
// Ownership of the returned messages passes to the caller.
func (s *Store) Drain(n int) []Message {
	s.mu.Lock()
	if n <= 0 || n > len(s.messages) {
		n = len(s.messages)
	}
	if n == 0 {
		s.mu.Unlock()
		return nil
	}
	drained := make([]Message, n)
	copy(drained, s.messages[:n])
	s.messages = append([]Message(nil), s.messages[n:]...)
	s.mu.Unlock()

	s.notify()
	return drained
}

// Subscribe returns a channel that receives a signal after state changes, and a
// function that cancels the subscription. Signals are coalesced: a subscriber that
// falls behind sees a single pending signal, never a blocked writer.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
