package recording_test

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/scalpel-recorder/internal/recording"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) recording.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, running every timer that comes due on the way.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.stopped {
				live = append(live, t)
			}
		}
		c.timers = live
		sort.SliceStable(c.timers, func(i, j int) bool {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		c.timers = c.timers[1:]
		next.stopped = true
		c.now = next.deadline
		c.mu.Unlock()

		next.f()
	}
}

// recordingProcessor remembers every event handed to it.
type recordingProcessor struct {
	mu        sync.Mutex
	clock     *fakeClock
	events    []recording.BrowserEvent
	times     []time.Time
	failFor   string
	panicking bool
}

var errStubFailure = errors.New("stub failure")

func (p *recordingProcessor) Preprocess(ev recording.BrowserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicking {
		panic("processor exploded")
	}
	if p.failFor != "" && recording.ElementIdentity(ev) == p.failFor {
		return errStubFailure
	}
	p.events = append(p.events, ev)
	if p.clock != nil {
		p.times = append(p.times, p.clock.Now())
	}
	return nil
}

func (p *recordingProcessor) processed() []recording.BrowserEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recording.BrowserEvent(nil), p.events...)
}

func input(id, elementUUID, text string) *recording.InputEvent {
	return &recording.InputEvent{
		BaseEvent:     recording.BaseEvent{EventID: id, WindowURL: "https://example.test/form"},
		ElementTarget: recording.ElementTarget{ElementUUID: elementUUID},
		TypedText:     text,
	}
}

func click(id, elementUUID string) *recording.ClickEvent {
	return &recording.ClickEvent{
		BaseEvent:     recording.BaseEvent{EventID: id, WindowURL: "https://example.test/form"},
		ElementTarget: recording.ElementTarget{ElementUUID: elementUUID},
	}
}

func keyPress(id string, keys ...string) *recording.KeyPressEvent {
	return &recording.KeyPressEvent{
		BaseEvent: recording.BaseEvent{EventID: id, WindowURL: "https://example.test/form"},
		Keys:      keys,
	}
}
