// internal/recording/events.go
package recording

import (
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
)

// EventType discriminates the BrowserEvent union. Values match the wire format.
type EventType string

const (
	EventClick    EventType = "click"
	EventInput    EventType = "input"
	EventKeyPress EventType = "key-press"
	EventOpenPage EventType = "open-page"
)

// ErrUnknownEventType is returned when decoding a payload whose type is not recognized.
var ErrUnknownEventType = errors.New("unknown browser event type")

// BaseEvent carries the fields shared by every interaction.
type BaseEvent struct {
	EventID string `json:"eventId"`
	// DOM is the serialized snapshot taken at capture time. It is cleared once the
	// event has been preprocessed.
	DOM       string `json:"dom"`
	WindowURL string `json:"windowUrl"`
}

// ElementTarget identifies the element an interaction was performed on.
type ElementTarget struct {
	ElementUUID string   `json:"elementUUID"`
	Selectors   []string `json:"selectors"`
	ElementName string   `json:"elementName,omitempty"`
	ElementType string   `json:"elementType,omitempty"`
}

// BrowserEvent is a single recorded interaction.
type BrowserEvent interface {
	Type() EventType
	Base() *BaseEvent
}

// TargetedEvent is a BrowserEvent aimed at one element.
type TargetedEvent interface {
	BrowserEvent
	Target() *ElementTarget
}

type ClickEvent struct {
	BaseEvent
	ElementTarget
}

type InputEvent struct {
	BaseEvent
	ElementTarget
	TypedText string `json:"typedText"`
}

// KeyPressEvent lists modifiers in the order Control, Shift, Alt, Meta, followed by the key.
type KeyPressEvent struct {
	BaseEvent
	Keys []string `json:"keys"`
}

type OpenPageEvent struct {
	BaseEvent
	Title string `json:"title"`
}

func (e *ClickEvent) Type() EventType        { return EventClick }
func (e *ClickEvent) Base() *BaseEvent       { return &e.BaseEvent }
func (e *ClickEvent) Target() *ElementTarget { return &e.ElementTarget }

func (e *InputEvent) Type() EventType        { return EventInput }
func (e *InputEvent) Base() *BaseEvent       { return &e.BaseEvent }
func (e *InputEvent) Target() *ElementTarget { return &e.ElementTarget }

func (e *KeyPressEvent) Type() EventType  { return EventKeyPress }
func (e *KeyPressEvent) Base() *BaseEvent { return &e.BaseEvent }

func (e *OpenPageEvent) Type() EventType  { return EventOpenPage }
func (e *OpenPageEvent) Base() *BaseEvent { return &e.BaseEvent }

// ElementIdentity returns the identifier of the element an event targets, or "" for
// events without a single target.
func ElementIdentity(ev BrowserEvent) string {
	if t, ok := ev.(TargetedEvent); ok {
		return t.Target().ElementUUID
	}
	return ""
}

// -- Wire format --

// EncodeEvent serializes ev with its "type" discriminant.
func EncodeEvent(ev BrowserEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot encode nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	// Splice the discriminant in front of the struct fields.
	typeField, err := json.Marshal(ev.Type())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+len(typeField)+9)
	out = append(out, `{"type":`...)
	out = append(out, typeField...)
	if len(data) > 2 {
		out = append(out, ',')
	}
	return append(out, data[1:]...), nil
}

// DecodeEvent parses a payload produced by EncodeEvent or by the page instrumentation.
func DecodeEvent(data []byte) (BrowserEvent, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode browser event: %w", err)
	}

	var ev BrowserEvent
	switch head.Type {
	case EventClick:
		ev = &ClickEvent{}
	case EventInput:
		ev = &InputEvent{}
	case EventKeyPress:
		ev = &KeyPressEvent{}
	case EventOpenPage:
		ev = &OpenPageEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

// -- Log messages --

// MessageType classifies entries of the recorded log.
type MessageType string

const (
	MessageDOM         MessageType = "DOM"
	MessageImage       MessageType = "Image"
	MessageText        MessageType = "Text"
	MessageInteraction MessageType = "Interaction"
)

// Message is one entry of the recorded log. For interactions, Content holds the
// encoded BrowserEvent.
type Message struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	WindowURL string      `json:"windowUrl"`
}

// NewInteractionMessage wraps an event in a log message.
func NewInteractionMessage(ev BrowserEvent) (Message, error) {
	data, err := EncodeEvent(ev)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode interaction: %w", err)
	}
	return Message{
		Type:      MessageInteraction,
		Content:   string(data),
		WindowURL: ev.Base().WindowURL,
	}, nil
}

// Interaction decodes the event carried by an Interaction message.
func (m Message) Interaction() (BrowserEvent, error) {
	if m.Type != MessageInteraction {
		return nil, fmt.Errorf("message of type %s carries no interaction", m.Type)
	}
	return DecodeEvent([]byte(m.Content))
}
