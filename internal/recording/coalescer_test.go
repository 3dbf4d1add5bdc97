package recording_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/selector"
	"github.com/xkilldash9x/scalpel-recorder/internal/recording"
)

type coalescerFixture struct {
	clock *fakeClock
	store *recording.Store
	proc  *recordingProcessor
	c     *recording.Coalescer
}

func newCoalescerFixture(t *testing.T) *coalescerFixture {
	t.Helper()
	clock := newFakeClock()
	store := recording.NewStore(zaptest.NewLogger(t))
	store.SetRecording(true)
	proc := &recordingProcessor{clock: clock}
	c := recording.NewCoalescer(zaptest.NewLogger(t), store, store, proc, recording.WithClock(clock))
	t.Cleanup(c.Close)
	return &coalescerFixture{clock: clock, store: store, proc: proc, c: c}
}

func TestCoalescer_CollapsesInputBurst(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	for i, text := range []string{"h", "he", "hel"} {
		require.NoError(t, f.c.Admit(input(string(rune('1'+i)), "A", text)))
		f.clock.Advance(10 * time.Millisecond)
	}
	assert.Equal(t, 3, f.c.Pending())
	assert.Empty(t, f.proc.processed(), "nothing runs before the idle window passes")

	f.clock.Advance(200 * time.Millisecond)

	processed := f.proc.processed()
	require.Len(t, processed, 1)
	assert.Equal(t, "hel", processed[0].(*recording.InputEvent).TypedText)
	assert.Equal(t, 0, f.c.Pending())
	assert.Equal(t, 1, f.store.Len())
}

func TestCoalescer_IdleWindowResetsOnArrival(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	require.NoError(t, f.c.Admit(click("1", "A")))
	f.clock.Advance(90 * time.Millisecond)
	require.NoError(t, f.c.Admit(click("2", "B")))
	f.clock.Advance(90 * time.Millisecond)
	assert.Empty(t, f.proc.processed())

	f.clock.Advance(10 * time.Millisecond)
	require.Len(t, f.proc.processed(), 1)
	assert.Equal(t, "1", f.proc.processed()[0].Base().EventID)
	assert.Equal(t, f.clock.now, f.proc.times[0])
}

func TestCoalescer_MaxWaitCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)
	start := f.clock.Now()

	// Alternating elements every 50ms for 600ms never leave a 100ms gap.
	for i := 0; i < 12; i++ {
		el := "A"
		if i%2 == 1 {
			el = "B"
		}
		require.NoError(t, f.c.Admit(click(string(rune('a'+i)), el)))
		f.clock.Advance(50 * time.Millisecond)
	}

	require.NotEmpty(t, f.proc.times)
	assert.LessOrEqual(t, f.proc.times[0].Sub(start), 500*time.Millisecond)
	assert.Equal(t, "a", f.proc.processed()[0].Base().EventID)
}

func TestCoalescer_RemainderIsNotStranded(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	require.NoError(t, f.c.Admit(click("1", "A")))
	require.NoError(t, f.c.Admit(input("2", "B", "x")))
	require.NoError(t, f.c.Admit(click("3", "C")))

	f.clock.Advance(time.Second)

	var ids []string
	for _, ev := range f.proc.processed() {
		ids = append(ids, ev.Base().EventID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, 3, f.store.Len())
}

func TestCoalescer_CollapseLooksAheadOnlyOne(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	// A, B, A: the two A clicks are separated so neither is dropped.
	require.NoError(t, f.c.Admit(click("1", "A")))
	require.NoError(t, f.c.Admit(click("2", "B")))
	require.NoError(t, f.c.Admit(click("3", "A")))
	// Key presses carry no element, so a run of them collapses to the last.
	require.NoError(t, f.c.Admit(keyPress("4", "Enter")))
	require.NoError(t, f.c.Admit(keyPress("5", "Escape")))
	f.c.Flush()

	var ids []string
	for _, ev := range f.proc.processed() {
		ids = append(ids, ev.Base().EventID)
	}
	assert.Equal(t, []string{"1", "2", "3", "5"}, ids)
}

func TestCoalescer_AdmissionGate(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	f.store.SetRecording(false)
	require.NoError(t, f.c.Admit(click("1", "A")))
	assert.Equal(t, 0, f.c.Pending())

	f.store.SetRecording(true)
	f.store.SetPicking(recording.PickingDOM)
	require.NoError(t, f.c.Admit(click("2", "A")))
	assert.Equal(t, 0, f.c.Pending())

	f.clock.Advance(time.Second)
	assert.Empty(t, f.proc.processed())
	assert.Equal(t, 0, f.store.Len())

	f.store.SetPicking(recording.PickingNone)
	require.NoError(t, f.c.Admit(click("3", "A")))
	assert.Equal(t, 1, f.c.Pending())
}

func TestCoalescer_MergesConsecutiveInputs(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	require.NoError(t, f.c.Admit(input("1", "A", "he")))
	f.clock.Advance(150 * time.Millisecond)
	require.NoError(t, f.c.Admit(input("2", "A", "hello")))
	f.clock.Advance(150 * time.Millisecond)

	require.Len(t, f.proc.processed(), 2)
	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	ev, err := msgs[0].Interaction()
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.(*recording.InputEvent).TypedText)
	assert.Equal(t, "1", ev.Base().EventID, "the merged entry keeps its identity")
}

func TestCoalescer_FailureIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.WarnLevel)
	clock := newFakeClock()
	store := recording.NewStore(zap.New(core))
	store.SetRecording(true)
	pre := recording.NewPreprocessor(zap.New(core), selector.NewEngine(zap.New(core)), "")
	c := recording.NewCoalescer(zap.New(core), store, store, pre, recording.WithClock(clock))
	defer c.Close()

	doc := `<html><body><button uuid="ok" id="go">Go</button></body></html>`
	bad := click("1", "missing")
	bad.DOM = doc
	good := click("2", "ok")
	good.DOM = doc

	require.NoError(t, c.Admit(bad))
	require.NoError(t, c.Admit(good))
	clock.Advance(time.Second)

	require.Equal(t, 1, logs.FilterMessage("Dropping event that failed preprocessing.").Len())
	entry := logs.FilterMessage("Dropping event that failed preprocessing.").All()[0]
	assert.Equal(t, "1", entry.ContextMap()["event_id"])

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	ev, err := msgs[0].Interaction()
	require.NoError(t, err)
	assert.Equal(t, "2", ev.Base().EventID)
	assert.Equal(t, "#go", ev.(*recording.ClickEvent).Selectors[0])

	// The pipeline stays healthy for later arrivals.
	next := click("3", "ok")
	next.DOM = doc
	require.NoError(t, c.Admit(next))
	clock.Advance(time.Second)
	assert.Equal(t, 2, store.Len())
}

func TestCoalescer_PanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.ErrorLevel)
	clock := newFakeClock()
	store := recording.NewStore(nil)
	store.SetRecording(true)
	proc := &recordingProcessor{panicking: true}
	c := recording.NewCoalescer(zap.New(core), store, store, proc, recording.WithClock(clock))
	defer c.Close()

	require.NoError(t, c.Admit(click("1", "A")))
	require.NotPanics(t, func() { clock.Advance(time.Second) })
	assert.Equal(t, 1, logs.FilterMessage("Panic while processing event.").Len())

	proc.mu.Lock()
	proc.panicking = false
	proc.mu.Unlock()
	require.NoError(t, c.Admit(click("2", "B")))
	clock.Advance(time.Second)
	assert.Equal(t, 1, store.Len())
}

func TestCoalescer_FlushAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newCoalescerFixture(t)

	require.NoError(t, f.c.Admit(input("1", "A", "a")))
	require.NoError(t, f.c.Admit(input("2", "A", "ab")))
	require.NoError(t, f.c.Admit(click("3", "B")))
	f.c.Flush()

	assert.Equal(t, 0, f.c.Pending())
	assert.Len(t, f.proc.processed(), 2)

	// A stale timer from before the flush must not fire anything.
	f.clock.Advance(time.Second)
	assert.Len(t, f.proc.processed(), 2)

	require.NoError(t, f.c.Admit(click("4", "C")))
	f.c.Close()
	assert.Equal(t, 0, f.c.Pending())
	assert.ErrorIs(t, f.c.Admit(click("5", "C")), recording.ErrCoalescerClosed)

	f.clock.Advance(time.Second)
	assert.Len(t, f.proc.processed(), 2)
}

func TestCoalescer_SystemClock(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := recording.NewStore(zaptest.NewLogger(t))
	store.SetRecording(true)
	proc := &recordingProcessor{}
	c := recording.NewCoalescer(zaptest.NewLogger(t), store, store, proc,
		recording.WithIdleWindow(5*time.Millisecond),
		recording.WithMaxWait(20*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Admit(click("1", "A")))
	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMergeOrAppend(t *testing.T) {
	first, err := recording.NewInteractionMessage(input("1", "A", "h"))
	require.NoError(t, err)
	textMsg := recording.Message{Type: recording.MessageText, Content: "note"}
	moved := click("2", "A")
	moved.WindowURL = "https://example.test/next"

	tests := []struct {
		name     string
		log      []recording.Message
		ev       recording.BrowserEvent
		wantLen  int
		wantType recording.EventType
		wantID   string
		wantText string
		wantURL  string
	}{
		{name: "empty log appends", log: nil, ev: input("2", "A", "hi"), wantLen: 1, wantType: recording.EventInput, wantID: "2", wantText: "hi"},
		{name: "same element merges", log: []recording.Message{first}, ev: input("2", "A", "hi"), wantLen: 1, wantType: recording.EventInput, wantID: "1", wantText: "hi"},
		{name: "other element appends", log: []recording.Message{first}, ev: input("2", "B", "hi"), wantLen: 2, wantType: recording.EventInput, wantID: "2", wantText: "hi"},
		{name: "click on typed element folds into input", log: []recording.Message{first}, ev: moved, wantLen: 1, wantType: recording.EventInput, wantID: "1", wantText: "", wantURL: "https://example.test/next"},
		{name: "click on other element appends", log: []recording.Message{first}, ev: click("2", "B"), wantLen: 2, wantType: recording.EventClick, wantID: "2"},
		{name: "key press appends", log: []recording.Message{first}, ev: keyPress("2", "Enter"), wantLen: 2, wantType: recording.EventKeyPress, wantID: "2"},
		{name: "non-interaction tail appends", log: []recording.Message{textMsg}, ev: input("2", "A", "hi"), wantLen: 2, wantType: recording.EventInput, wantID: "2", wantText: "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := append([]recording.Message(nil), tt.log...)
			out, err := recording.MergeOrAppend(log, tt.ev)
			require.NoError(t, err)
			require.Len(t, out, tt.wantLen)

			last, err := out[len(out)-1].Interaction()
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, last.Type())
			assert.Equal(t, tt.wantID, last.Base().EventID)
			if in, ok := last.(*recording.InputEvent); ok {
				assert.Equal(t, tt.wantText, in.TypedText)
			}
			if tt.wantURL != "" {
				assert.Equal(t, tt.wantURL, last.Base().WindowURL)
			}
		})
	}
}
