// internal/recording/coalescer.go
package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIdleWindow = 100 * time.Millisecond
	DefaultMaxWait    = 500 * time.Millisecond
)

// ErrCoalescerClosed is returned by Admit after Close.
var ErrCoalescerClosed = errors.New("coalescer is closed")

// Processor enriches one dequeued event before it is written to the log.
type Processor interface {
	Preprocess(ev BrowserEvent) error
}

// Coalescer reduces a bursty raw-event stream into append/merge writes on a MessageLog.
//
// Arrivals are queued and a debounce window is armed: it fires after the idle window
// passes with no new arrival, or once the max wait has elapsed since the first event of
// the burst, whichever comes first. Each firing collapses same-kind, same-element runs
// at the front of the queue and processes exactly one event.
type Coalescer struct {
	logger  *zap.Logger
	gate    Gate
	log     MessageLog
	proc    Processor
	clock   Clock
	idle    time.Duration
	maxWait time.Duration

	// procMu serializes processing so log writes follow dequeue order.
	procMu sync.Mutex

	mu         sync.Mutex
	queue      []BrowserEvent
	timer      Timer
	generation uint64
	burstStart time.Time
	inBurst    bool
	closed     bool
}

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*Coalescer)

func WithClock(clock Clock) CoalescerOption {
	return func(c *Coalescer) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIdleWindow sets the quiet period after the latest arrival before a firing.
func WithIdleWindow(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithMaxWait sets the ceiling on delay since the first event of a burst.
func WithMaxWait(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

// NewCoalescer creates a Coalescer reading gate on every admission and writing
// processed events into log.
func NewCoalescer(logger *zap.Logger, gate Gate, log MessageLog, proc Processor, opts ...CoalescerOption) *Coalescer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coalescer{
		logger:  logger.Named("coalescer"),
		gate:    gate,
		log:     log,
		proc:    proc,
		clock:   SystemClock{},
		idle:    DefaultIdleWindow,
		maxWait: DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxWait < c.idle {
		c.maxWait = c.idle
	}
	return c
}

// Admit offers a raw event. Events arriving while recording is disabled or picking is
// active are dropped without error.
func (c *Coalescer) Admit(ev BrowserEvent) error {
	if ev == nil {
		return fmt.Errorf("cannot admit nil event")
	}
	if !c.gate.RecordingEnabled() || c.gate.PickingActive() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoalescerClosed
	}
	c.queue = append(c.queue, ev)
	if !c.inBurst {
		c.inBurst = true
		c.burstStart = c.clock.Now()
	}
	c.armLocked()
	return nil
}

// Pending reports the number of queued events.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Flush processes every queued event synchronously, applying the same front collapse
// as a timed firing.
func (c *Coalescer) Flush() {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	c.mu.Lock()
	c.stopLocked()
	c.inBurst = false
	c.mu.Unlock()

	for {
		c.mu.Lock()
		ev := c.dequeueLocked()
		c.mu.Unlock()
		if ev == nil {
			return
		}
		c.process(ev)
	}
}

// Close stops the debounce timer and discards anything still queued. Later
// admissions fail with ErrCoalescerClosed.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopLocked()
	if n := len(c.queue); n > 0 {
		c.logger.Warn("Discarding queued events on close.", zap.Int("count", n))
	}
	c.queue = nil
	c.inBurst = false
}

// armLocked (re)starts the debounce window. The deadline is the idle window from now,
// clamped to the burst's max-wait ceiling.
func (c *Coalescer) armLocked() {
	c.stopLocked()
	delay := c.idle
	if remaining := c.maxWait - c.clock.Now().Sub(c.burstStart); remaining < delay {
		delay = max(remaining, 0)
	}
	gen := c.generation
	c.timer = c.clock.AfterFunc(delay, func() { c.fire(gen) })
}

func (c *Coalescer) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// A callback that already started sees a stale generation and does nothing.
	c.generation++
}

func (c *Coalescer) fire(gen uint64) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ev := c.dequeueLocked()
	if len(c.queue) > 0 {
		// The remainder starts a new burst rather than waiting on a future arrival.
		c.burstStart = c.clock.Now()
		c.armLocked()
	} else {
		c.inBurst = false
	}
	c.mu.Unlock()

	if ev != nil {
		c.process(ev)
	}
}

// dequeueLocked drops the head while it shares kind and element with its successor,
// then removes and returns the new head.
func (c *Coalescer) dequeueLocked() BrowserEvent {
	for len(c.queue) >= 2 && sameAction(c.queue[0], c.queue[1]) {
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	if len(c.queue) == 0 {
		return nil
	}
	ev := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return ev
}

func sameAction(a, b BrowserEvent) bool {
	return a.Type() == b.Type() && ElementIdentity(a) == ElementIdentity(b)
}

// process runs one event through the processor and into the log. Failures are
// confined to the event.
func (c *Coalescer) process(ev BrowserEvent) {
	base := ev.Base()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while processing event.",
				zap.String("event_id", base.EventID),
				zap.String("type", string(ev.Type())),
				zap.Any("panic_value", r),
				zap.Stack("stack"))
		}
	}()

	if err := c.proc.Preprocess(ev); err != nil {
		c.logger.Warn("Dropping event that failed preprocessing.",
			zap.String("event_id", base.EventID),
			zap.String("type", string(ev.Type())),
			zap.Error(err))
		return
	}
	err := c.log.Update(func(messages []Message) ([]Message, error) {
		return MergeOrAppend(messages, ev)
	})
	if err != nil {
		c.logger.Error("Failed to write event to log.",
			zap.String("event_id", base.EventID),
			zap.Error(err))
	}
}

// MergeOrAppend writes ev into messages. When the last message is an Input on the
// element ev targets, that message is rewritten in place with ev's typed text (empty
// unless ev is an Input) and URL; otherwise a new message is appended.
func MergeOrAppend(messages []Message, ev BrowserEvent) ([]Message, error) {
	if id := ElementIdentity(ev); id != "" && len(messages) > 0 {
		last := messages[len(messages)-1]
		if prev, ok := lastInput(last); ok && prev.ElementUUID == id {
			prev.TypedText = typedText(ev)
			prev.WindowURL = ev.Base().WindowURL
			msg, err := NewInteractionMessage(prev)
			if err != nil {
				return nil, err
			}
			messages[len(messages)-1] = msg
			return messages, nil
		}
	}

	msg, err := NewInteractionMessage(ev)
	if err != nil {
		return nil, err
	}
	return append(messages, msg), nil
}

func lastInput(m Message) (*InputEvent, bool) {
	if m.Type != MessageInteraction {
		return nil, false
	}
	ev, err := m.Interaction()
	if err != nil {
		return nil, false
	}
	input, ok := ev.(*InputEvent)
	return input, ok
}

func typedText(ev BrowserEvent) string {
	if input, ok := ev.(*InputEvent); ok {
		return input.TypedText
	}
	return ""
}
