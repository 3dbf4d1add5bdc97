// internal/browser/selector/engine.go
package selector

import (
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
)

const (
	DefaultMaxSelectors       = 10
	DefaultMaxSimpleSelectors = 5
	DefaultDescendantDepth    = 3
)

// ErrNotFound is returned when the requested element identifier is absent from the snapshot.
var ErrNotFound = errors.New("target element not found")

// Engine synthesizes CSS selectors that uniquely identify one element of a snapshot.
// An Engine holds no per-call state and is safe for concurrent use.
type Engine struct {
	logger          *zap.Logger
	maxSelectors    int
	maxSimple       int
	descendantDepth int
}

// Option tunes an Engine.
type Option func(*Engine)

// WithMaxSelectors caps the number of selectors returned per element.
func WithMaxSelectors(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSelectors = n
		}
	}
}

// WithMaxSimpleSelectors caps the ranked candidates kept per node (the tag fallback is extra).
func WithMaxSimpleSelectors(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxSimple = n
		}
	}
}

// WithDescendantDepth sets the deepest descendant level (0 = direct children) used
// when describing an element by its contents.
func WithDescendantDepth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.descendantDepth = n
		}
	}
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:          logger.Named("selector_engine"),
		maxSelectors:    DefaultMaxSelectors,
		maxSimple:       DefaultMaxSimpleSelectors,
		descendantDepth: DefaultDescendantDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synthesize returns up to the configured maximum of selectors, each verified to match
// exactly the element carrying elementID in snap. Results are ordered by strategy
// (ancestor path, descendant containment, sibling relation) and by generation order
// within a strategy. An empty result is not an error.
func (e *Engine) Synthesize(snap *dom.Snapshot, elementID string) ([]string, error) {
	target, err := snap.FindByIdentifier(elementID)
	if err != nil {
		if errors.Is(err, dom.ErrElementNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, elementID)
		}
		return nil, err
	}

	run := &synthesis{
		engine: e,
		snap:   snap,
		target: target,
		simple: make(map[*html.Node][]string),
	}
	return run.collect(), nil
}

// -- Per-call state --

type synthesis struct {
	engine *Engine
	snap   *dom.Snapshot
	target *html.Node
	simple map[*html.Node][]string

	seen    map[string]struct{}
	results []string
}

type strategy struct {
	name       string
	candidates iter.Seq[string]
}

func (s *synthesis) collect() []string {
	s.seen = make(map[string]struct{})
	s.results = make([]string, 0, s.engine.maxSelectors)

	strategies := []strategy{
		{"ancestor_path", s.ancestorPath()},
		{"descendant_containment", s.descendantContainment()},
		{"sibling_relation", s.siblingRelation()},
	}
	for _, st := range strategies {
		before := len(s.results)
		for candidate := range st.candidates {
			if !s.offer(candidate) {
				break
			}
		}
		s.engine.logger.Debug("Selector strategy finished.",
			zap.String("strategy", st.name),
			zap.Int("accepted", len(s.results)-before))
		if s.full() {
			break
		}
	}
	return s.results
}

// offer validates a candidate and records it when it isolates the target.
// It returns false once the result set is full.
func (s *synthesis) offer(candidate string) bool {
	if _, dup := s.seen[candidate]; dup {
		return !s.full()
	}
	s.seen[candidate] = struct{}{}
	if s.snap.IsUniqueMatch(candidate, s.target) {
		s.results = append(s.results, candidate)
	}
	return !s.full()
}

func (s *synthesis) full() bool {
	return len(s.results) >= s.engine.maxSelectors
}

func (s *synthesis) simpleSelectors(n *html.Node) []string {
	if sel, ok := s.simple[n]; ok {
		return sel
	}
	sel := SimpleSelectors(n, s.engine.maxSimple)
	s.simple[n] = sel
	return sel
}

// ownCandidates is the target's tag followed by its simple selectors. The tag appears
// twice; duplicates are dropped by offer.
func (s *synthesis) ownCandidates() []string {
	return append([]string{dom.TagName(s.target)}, s.simpleSelectors(s.target)...)
}

// -- Strategy A: ancestor path --

// walk is the accumulator threaded across ancestors: the narrowest non-unique
// selector found so far and the outermost node it names.
type walk struct {
	selector string
	count    int
	anchor   *html.Node
}

func (s *synthesis) ancestorPath() iter.Seq[string] {
	return func(yield func(string) bool) {
		path := ancestorChain(s.target)
		if len(path) == 0 {
			return
		}
		s.engine.logger.Debug("Ancestor path resolved.", zap.Strings("path", tagNames(path)))

		own := s.simpleSelectors(s.target)
		index := dom.ChildIndex(s.target)
		seeds := make([]string, 0, 2*len(own))
		seeds = append(seeds, own...)
		for _, sel := range own {
			seeds = append(seeds, nthChild(sel, index))
		}

		for _, seed := range seeds {
			count, err := s.snap.Count(seed)
			if err != nil || count == 0 {
				continue
			}
			if count == 1 && !yield(seed) {
				return
			}

			acc := walk{selector: seed, count: count, anchor: s.target}
			for _, ancestor := range path[1:] {
				var ok bool
				if acc, ok = s.extend(acc, ancestor, yield); !ok {
					return
				}
			}
		}
	}
}

// extend combines acc with every simple selector of ancestor. Unique combinations are
// yielded immediately; the combination with the strictly lowest non-unique match count
// becomes the next accumulator. It returns false when the consumer stopped iteration.
func (s *synthesis) extend(acc walk, ancestor *html.Node, yield func(string) bool) (walk, bool) {
	combinator := " "
	if dom.IsChildOf(acc.anchor, ancestor) {
		combinator = " > "
	}
	withIndex := !dom.IsBody(ancestor) && dom.ElementParent(ancestor) != nil
	index := dom.ChildIndex(ancestor)

	next := acc
	for _, sel := range s.simpleSelectors(ancestor) {
		combined := []string{sel + combinator + acc.selector}
		if withIndex {
			combined = append(combined, nthChild(sel, index)+combinator+acc.selector)
		}
		for _, candidate := range combined {
			count, err := s.snap.Count(candidate)
			switch {
			case err != nil || count == 0:
				continue
			case count == 1:
				if !yield(candidate) {
					return acc, false
				}
			case count < next.count:
				next = walk{selector: candidate, count: count, anchor: ancestor}
			}
		}
	}
	return next, true
}

// ancestorChain returns target followed by its element ancestors, stopping before <html>.
func ancestorChain(target *html.Node) []*html.Node {
	var path []*html.Node
	for n := target; n != nil && !dom.IsDocumentElement(n); n = dom.ElementParent(n) {
		path = append(path, n)
	}
	return path
}

// -- Strategy B: descendant containment --

type queued struct {
	node  *html.Node
	depth int
}

func (s *synthesis) descendantContainment() iter.Seq[string] {
	return func(yield func(string) bool) {
		var predicates []string
		var queue []queued
		for _, child := range dom.ElementChildren(s.target) {
			queue = append(queue, queued{node: child, depth: 0})
		}

		for len(queue) > 0 {
			item := queue[0]
			queue = queue[1:]

			for _, sel := range s.simpleSelectors(item.node) {
				predicates = append(predicates, ":has("+sel+")")
				if item.depth == 0 {
					predicates = append(predicates, ":has("+nthChild(sel, dom.ChildIndex(item.node))+")")
				}
			}
			if item.depth < s.engine.descendantDepth {
				for _, child := range dom.ElementChildren(item.node) {
					queue = append(queue, queued{node: child, depth: item.depth + 1})
				}
			}
		}

		for _, prefix := range s.ownCandidates() {
			for _, predicate := range predicates {
				if !yield(prefix + predicate) {
					return
				}
			}
		}
	}
}

// -- Strategy C: sibling relation --

func (s *synthesis) siblingRelation() iter.Seq[string] {
	return func(yield func(string) bool) {
		parent := dom.ElementParent(s.target)
		if parent == nil || dom.IsBody(parent) {
			return
		}

		var prefixes []string
		for _, sibling := range dom.ElementChildren(parent) {
			if sibling == s.target {
				continue
			}
			for _, sel := range s.simpleSelectors(sibling) {
				prefixes = append(prefixes, sel+" ~ ")
			}
		}

		for _, suffix := range s.ownCandidates() {
			for _, prefix := range prefixes {
				if !yield(prefix + suffix) {
					return
				}
			}
		}
	}
}

// -- Helpers --

func nthChild(sel string, index int) string {
	return fmt.Sprintf("%s:nth-child(%d)", sel, index)
}

func tagNames(nodes []*html.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = dom.TagName(n)
	}
	return names
}
