// internal/browser/recorder/recorder.go
package recorder

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/selector"
	"github.com/xkilldash9x/scalpel-recorder/internal/recording"
)

//go:embed record.js
var recordScript string

// BindingName is the page-side function the capture script reports through.
const BindingName = "__scalpelRecord"

// titleTimeout bounds the title lookup that follows a page load.
const titleTimeout = 5 * time.Second

// ErrMalformedPayload is returned for binding payloads that cannot become an event.
var ErrMalformedPayload = errors.New("malformed capture payload")

// Sink receives raw, unprocessed events.
type Sink interface {
	Admit(ev recording.BrowserEvent) error
}

// Recorder instruments a browser tab and turns captured interactions into raw
// BrowserEvents for a Sink.
type Recorder struct {
	logger *zap.Logger
	sink   Sink
	gate   recording.Gate
	idAttr string
	newID  func() string

	mu sync.Mutex
	// clicked suppresses the open-page event for a load a recorded click caused.
	clicked bool

	wg sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIdentifierAttribute sets the attribute stamped on elements in snapshots.
func WithIdentifierAttribute(name string) Option {
	return func(r *Recorder) {
		if name != "" {
			r.idAttr = name
		}
	}
}

// WithGate shares the admission guard the sink applies, so clicks the sink drops do
// not count as the cause of the next page load.
func WithGate(g recording.Gate) Option {
	return func(r *Recorder) {
		r.gate = g
	}
}

// WithIDGenerator replaces the event id source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New creates a Recorder feeding sink.
func New(logger *zap.Logger, sink Sink, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		logger: logger.Named("recorder"),
		sink:   sink,
		idAttr: dom.DefaultIdentifierAttribute,
		newID:  recording.NewEventID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Script returns the capture script configured for this recorder.
func (r *Recorder) Script() (string, error) {
	cfg, err := json.Marshal(struct {
		Attribute string `json:"attribute"`
		Binding   string `json:"binding"`
	}{r.idAttr, BindingName})
	if err != nil {
		return "", fmt.Errorf("failed to encode capture script config: %w", err)
	}
	return recordScript + "(" + string(cfg) + ");", nil
}

// Attach instruments the tab behind ctx, which must be a chromedp context. The script
// runs on every new document; listeners live as long as ctx.
func (r *Recorder) Attach(ctx context.Context) error {
	script, err := r.Script()
	if err != nil {
		return err
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		r.handleTargetEvent(ctx, ev)
	})

	err = chromedp.Run(ctx,
		page.Enable(),
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(c context.Context) error {
			scriptID, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
			if err != nil {
				return fmt.Errorf("could not inject capture script: %w", err)
			}
			r.logger.Debug("Injected capture script.", zap.String("scriptID", string(scriptID)))
			return nil
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to instrument tab: %w", err)
	}
	r.logger.Info("Browser tab instrumented for recording.", zap.String("identifier_attribute", r.idAttr))
	return nil
}

// Wait blocks until background lookups started by page loads have finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// handleTargetEvent runs on chromedp's event goroutine and must not block on CDP calls.
func (r *Recorder) handleTargetEvent(ctx context.Context, ev interface{}) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic while handling browser event.",
				zap.Any("panic_reason", p),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		if err := r.HandlePayload(e.Payload); err != nil {
			r.logger.Warn("Discarding capture payload.", zap.Error(err))
		}
	case *page.EventLoadEventFired:
		if !r.consumeClick() {
			r.wg.Add(1)
			go r.emitOpenPage(ctx)
		}
	}
}

// payload mirrors what the capture script sends through the binding.
type payload struct {
	Kind        string   `json:"kind"`
	DOM         string   `json:"dom"`
	URL         string   `json:"url"`
	ElementUUID string   `json:"elementUUID"`
	Value       string   `json:"value"`
	Keys        []string `json:"keys"`
}

// HandlePayload decodes one binding payload into a raw event and admits it.
func (r *Recorder) HandlePayload(raw string) error {
	ev, err := r.decodePayload(raw)
	if err != nil {
		return err
	}
	accepted := r.accepting()
	if err := r.sink.Admit(ev); err != nil {
		return fmt.Errorf("failed to admit %s event: %w", ev.Type(), err)
	}
	if accepted && ev.Type() == recording.EventClick {
		r.mu.Lock()
		r.clicked = true
		r.mu.Unlock()
	}
	return nil
}

// accepting reports whether the sink is currently taking events.
func (r *Recorder) accepting() bool {
	return r.gate == nil || (r.gate.RecordingEnabled() && !r.gate.PickingActive())
}

func (r *Recorder) decodePayload(raw string) (recording.BrowserEvent, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	base := recording.BaseEvent{EventID: r.newID(), DOM: p.DOM, WindowURL: p.URL}
	target := func() (recording.ElementTarget, error) {
		if p.ElementUUID == "" {
			return recording.ElementTarget{}, fmt.Errorf("%w: %s without element identity", ErrMalformedPayload, p.Kind)
		}
		// Placeholder until the preprocessor synthesizes real selectors.
		placeholder := "[" + r.idAttr + "=" + selector.QuoteString(p.ElementUUID) + "]"
		return recording.ElementTarget{ElementUUID: p.ElementUUID, Selectors: []string{placeholder}}, nil
	}

	switch recording.EventType(p.Kind) {
	case recording.EventClick:
		t, err := target()
		if err != nil {
			return nil, err
		}
		return &recording.ClickEvent{BaseEvent: base, ElementTarget: t}, nil
	case recording.EventInput:
		t, err := target()
		if err != nil {
			return nil, err
		}
		return &recording.InputEvent{BaseEvent: base, ElementTarget: t, TypedText: p.Value}, nil
	case recording.EventKeyPress:
		if len(p.Keys) == 0 {
			return nil, fmt.Errorf("%w: key-press without keys", ErrMalformedPayload)
		}
		return &recording.KeyPressEvent{BaseEvent: base, Keys: p.Keys}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", recording.ErrUnknownEventType, p.Kind)
	}
}

// consumeClick reports whether a click was recorded since the previous load and
// clears the flag.
func (r *Recorder) consumeClick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	clicked := r.clicked
	r.clicked = false
	return clicked
}

func (r *Recorder) emitOpenPage(ctx context.Context) {
	defer r.wg.Done()

	var title, location string
	lookupCtx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	if err := chromedp.Run(lookupCtx, chromedp.Title(&title), chromedp.Location(&location)); err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Could not read page title after load.", zap.Error(err))
		}
		return
	}
	if err := r.EmitOpenPage(location, title); err != nil {
		r.logger.Warn("Failed to record page open.", zap.Error(err))
	}
}

// EmitOpenPage admits an OpenPage event for url.
func (r *Recorder) EmitOpenPage(url, title string) error {
	ev := &recording.OpenPageEvent{
		BaseEvent: recording.BaseEvent{EventID: r.newID(), WindowURL: url},
		Title:     title,
	}
	if err := r.sink.Admit(ev); err != nil {
		return fmt.Errorf("failed to admit open-page event: %w", err)
	}
	r.logger.Debug("Page opened.", zap.String("url", url), zap.String("title", title))
	return nil
}
