// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// XPath returns an XPath expression that selects exactly n in the snapshot. It anchors
// on the nearest ancestor-or-self whose id is unique in the document and otherwise
// falls back to positional steps from the root.
func (s *Snapshot) XPath(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}

	var steps []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = ElementParent(cur) {
		if id := Attr(cur, "id"); id != "" {
			anchor := "//*[@id=" + xpathLiteral(id) + "]"
			if nodes, err := htmlquery.QueryAll(s.root, anchor); err == nil && len(nodes) == 1 {
				steps = append(steps, anchor)
				break
			}
		}
		steps = append(steps, fmt.Sprintf("%s[%d]", TagName(cur), typeIndex(cur)))
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	path := strings.Join(steps, "/")
	if !strings.HasPrefix(path, "//") {
		path = "/" + path
	}
	return path
}

// typeIndex is n's 1-based position among element siblings with the same tag.
func typeIndex(n *html.Node) int {
	index := 1
	tag := TagName(n)
	for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
		if prev.Type == html.ElementNode && TagName(prev) == tag {
			index++
		}
	}
	return index
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
