// internal/browser/selector/simple.go
package selector

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
)

// Tier ranks a simple selector; lower tiers are expected to survive page changes better.
type Tier int

const (
	TierID         Tier = 1
	TierTestID     Tier = 2
	TierSemantic   Tier = 3
	TierWeak       Tier = 4
	TierStructural Tier = 5
	TierClass      Tier = 100
	TierTag        Tier = 999
)

// attributeTiers is consulted in this order; the order breaks ties within a tier.
var attributeTiers = []struct {
	Name string
	Tier Tier
}{
	{"id", TierID},
	{"data-testid", TierTestID},
	{"data-test-id", TierTestID},
	{"data-pw", TierTestID},
	{"data-cy", TierTestID},
	{"data-id", TierTestID},
	{"data-name", TierSemantic},
	{"name", TierSemantic},
	{"aria-label", TierSemantic},
	{"title", TierSemantic},
	{"placeholder", TierWeak},
	{"href", TierWeak},
	{"alt", TierWeak},
	{"data-index", TierStructural},
	{"data-role", TierStructural},
	{"role", TierStructural},
}

// Candidate is a single-node selector and the tier it was generated from.
type Candidate struct {
	Selector string
	Tier     Tier
}

// RankedCandidates returns every attribute and class candidate for n, sorted by tier.
// The tag-name fallback is not included.
func RankedCandidates(n *html.Node) []Candidate {
	tag := dom.TagName(n)
	if tag == "" {
		return nil
	}

	var candidates []Candidate
	for _, attr := range attributeTiers {
		value := dom.Attr(n, attr.Name)
		if value == "" {
			continue
		}
		var sel string
		if attr.Name == "id" {
			sel = "#" + EscapeIdentifier(value)
		} else {
			sel = fmt.Sprintf(`%s[%s=%s]`, tag, attr.Name, QuoteString(value))
		}
		candidates = append(candidates, Candidate{Selector: sel, Tier: attr.Tier})
	}

	if classes := dom.ClassList(n); len(classes) > 0 {
		var sb strings.Builder
		sb.WriteString(tag)
		for _, c := range classes {
			sb.WriteByte('.')
			sb.WriteString(EscapeIdentifier(c))
		}
		candidates = append(candidates, Candidate{Selector: sb.String(), Tier: TierClass})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Tier < candidates[j].Tier
	})
	return candidates
}

// SimpleSelectors returns the best limit candidates for n followed by its bare tag name.
func SimpleSelectors(n *html.Node, limit int) []string {
	tag := dom.TagName(n)
	if tag == "" {
		return nil
	}
	ranked := RankedCandidates(n)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, 0, len(ranked)+1)
	for _, c := range ranked {
		out = append(out, c.Selector)
	}
	return append(out, tag)
}

// -- Escaping --

// EscapeIdentifier escapes s for use as a CSS identifier (the part after # or .),
// following the CSSOM serialization rules.
func EscapeIdentifier(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			sb.WriteRune('\uFFFD')
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&sb, `\%x `, r)
		case i == 0 && r == '-' && len(runes) == 1:
			sb.WriteString(`\-`)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		default:
			sb.WriteByte('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// QuoteString renders s as a double-quoted CSS string.
func QuoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\a `)
		case '\r':
			sb.WriteString(`\d `)
		case '\f':
			sb.WriteString(`\c `)
		case 0:
			sb.WriteRune('\uFFFD')
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
