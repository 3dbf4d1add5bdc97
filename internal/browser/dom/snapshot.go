// internal/browser/dom/snapshot.go
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// DefaultIdentifierAttribute is the attribute the instrumentation layer stamps on every
// element before a snapshot is serialized.
const DefaultIdentifierAttribute = "uuid"

// ErrElementNotFound is returned when no element in the snapshot carries the requested identifier.
var ErrElementNotFound = errors.New("element not found in snapshot")

// Snapshot is an immutable, parsed copy of a document captured at interaction time.
// It answers the structural questions the selector engine needs: attribute and tree
// access, plus "how many elements does this CSS selector match".
type Snapshot struct {
	root   *html.Node
	idAttr string

	mu      sync.Mutex
	results map[string]queryResult
	failed  map[string]error
}

// queryResult is the memoized outcome of one selector. only is set when the selector
// matched exactly one element.
type queryResult struct {
	count int
	only  *html.Node
}

// Option configures a Snapshot at parse time.
type Option func(*Snapshot)

// WithIdentifierAttribute overrides the attribute used to resolve element identity.
func WithIdentifierAttribute(name string) Option {
	return func(s *Snapshot) {
		if name != "" {
			s.idAttr = name
		}
	}
}

// Parse reads serialized markup and returns a snapshot of it.
func Parse(r io.Reader, opts ...Option) (*Snapshot, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document snapshot: %w", err)
	}
	s := &Snapshot{
		root:    root,
		idAttr:  DefaultIdentifierAttribute,
		results: make(map[string]queryResult),
		failed:  make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(markup string, opts ...Option) (*Snapshot, error) {
	return Parse(strings.NewReader(markup), opts...)
}

// Root returns the document node.
func (s *Snapshot) Root() *html.Node {
	return s.root
}

// IdentifierAttribute returns the attribute name used for element identity.
func (s *Snapshot) IdentifierAttribute() string {
	return s.idAttr
}

// FindByIdentifier returns the element whose identity attribute equals id.
func (s *Snapshot) FindByIdentifier(id string) (*html.Node, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrElementNotFound)
	}
	// Values are compared in Go rather than inside the expression so identifiers
	// containing quotes cannot break the query.
	candidates, err := htmlquery.QueryAll(s.root, fmt.Sprintf("//*[@%s]", s.idAttr))
	if err != nil {
		return nil, fmt.Errorf("invalid identifier attribute %q: %w", s.idAttr, err)
	}
	for _, n := range candidates {
		if htmlquery.SelectAttr(n, s.idAttr) == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%q", ErrElementNotFound, s.idAttr, id)
}

// Count returns the number of elements in the document matched by selector.
// An error is returned when the selector cannot be parsed.
func (s *Snapshot) Count(selector string) (int, error) {
	res, err := s.query(selector)
	return res.count, err
}

// IsUniqueMatch reports whether selector parses, matches exactly one element, and that
// element is target itself.
func (s *Snapshot) IsUniqueMatch(selector string, target *html.Node) bool {
	if target == nil {
		return false
	}
	res, err := s.query(selector)
	return err == nil && res.count == 1 && res.only == target
}

// query runs selector once per snapshot and memoizes the outcome.
func (s *Snapshot) query(selector string) (queryResult, error) {
	s.mu.Lock()
	if res, ok := s.results[selector]; ok {
		s.mu.Unlock()
		return res, nil
	}
	if err, ok := s.failed[selector]; ok {
		s.mu.Unlock()
		return queryResult{}, err
	}
	s.mu.Unlock()

	matches, err := s.match(selector)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed[selector] = err
		return queryResult{}, err
	}
	res := queryResult{count: len(matches)}
	if len(matches) == 1 {
		res.only = matches[0]
	}
	s.results[selector] = res
	return res, nil
}

func (s *Snapshot) match(selector string) (matches []*html.Node, err error) {
	// Any failure inside the matcher counts as a rejected selector.
	defer func() {
		if r := recover(); r != nil {
			matches, err = nil, fmt.Errorf("selector %q: %v", selector, r)
		}
	}()
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return compiled.MatchAll(s.root), nil
}
