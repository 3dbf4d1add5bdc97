// internal/recording/preprocess.go
package recording

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/selector"
)

// UnknownElementName is reported when no descriptive text can be found for an element.
const UnknownElementName = "unknown"

// nameAttributes are consulted in order when naming an element.
var nameAttributes = []string{"aria-label", "title", "placeholder", "name", "alt"}

// Preprocessor enriches targeted events with selectors and element metadata.
type Preprocessor struct {
	logger *zap.Logger
	engine *selector.Engine
	idAttr string
}

// NewPreprocessor wires a Preprocessor to a selector engine. idAttr names the element
// identity attribute present in snapshots; empty selects dom.DefaultIdentifierAttribute.
func NewPreprocessor(logger *zap.Logger, engine *selector.Engine, idAttr string) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = selector.NewEngine(logger)
	}
	if idAttr == "" {
		idAttr = dom.DefaultIdentifierAttribute
	}
	return &Preprocessor{
		logger: logger.Named("preprocessor"),
		engine: engine,
		idAttr: idAttr,
	}
}

// Preprocess computes selectors, name and type for Click and Input events, then drops
// the snapshot. Other events are returned untouched. On error the event is left as it was.
func (p *Preprocessor) Preprocess(ev BrowserEvent) error {
	targeted, ok := ev.(TargetedEvent)
	if !ok {
		return nil
	}
	base, target := ev.Base(), targeted.Target()

	snap, err := dom.ParseString(base.DOM, dom.WithIdentifierAttribute(p.idAttr))
	if err != nil {
		return fmt.Errorf("event %s: %w", base.EventID, err)
	}
	selectors, err := p.engine.Synthesize(snap, target.ElementUUID)
	if err != nil {
		return fmt.Errorf("event %s: %w", base.EventID, err)
	}
	element, err := snap.FindByIdentifier(target.ElementUUID)
	if err != nil {
		return fmt.Errorf("event %s: %w", base.EventID, err)
	}

	target.Selectors = selectors
	target.ElementName = ElementName(element)
	target.ElementType = ElementType(element)
	base.DOM = ""

	p.logger.Debug("Event preprocessed.",
		zap.String("event_id", base.EventID),
		zap.String("type", string(ev.Type())),
		zap.Int("selectors", len(selectors)),
		zap.String("element_type", target.ElementType))
	return nil
}

// ElementName derives a human-readable label for an element: the first non-empty
// naming attribute, then its own text, then the text of its siblings.
func ElementName(n *html.Node) string {
	for _, attr := range nameAttributes {
		if v := dom.Attr(n, attr); v != "" {
			return v
		}
	}
	if text := dom.ExtractText(n); text != "" {
		return text
	}
	if n != nil && n.Parent != nil {
		var texts []string
		for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
			if text := strings.TrimSpace(dom.ExtractText(sib)); text != "" {
				texts = append(texts, text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return UnknownElementName
}

// ElementType maps an element's tag to the coarse kind shown to consumers.
func ElementType(n *html.Node) string {
	switch dom.TagName(n) {
	case "a":
		return "link"
	case "button":
		return "button"
	case "textarea":
		return "textarea"
	case "input":
		return "input"
	default:
		return "element"
	}
}
