// internal/browser/dom/nodes.go
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// -- Node accessors --
// These mirror the subset of the live DOM element API the engine relies on,
// restricted to element nodes.

// TagName returns the lowercase tag name of an element, or "" for non-elements.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of the named attribute, or "" when absent.
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, name)
}

// ElementParent returns the nearest ancestor that is an element.
func ElementParent(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
		if p.Type == html.DocumentNode {
			return nil
		}
	}
	return nil
}

// ElementChildren returns the element children of n in document order.
func ElementChildren(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			children = append(children, c)
		}
	}
	return children
}

// ChildIndex returns the 1-based position of n among its parent's element children,
// as used by :nth-child(). Elements without an element parent report 1.
func ChildIndex(n *html.Node) int {
	parent := ElementParent(n)
	if parent == nil {
		return 1
	}
	for i, c := range ElementChildren(parent) {
		if c == n {
			return i + 1
		}
	}
	return 1
}

// IsChildOf reports whether child is one of parent's element children.
func IsChildOf(child, parent *html.Node) bool {
	return child != nil && parent != nil && child.Parent == parent && child.Type == html.ElementNode
}

// IsBody reports whether n is the <body> element.
func IsBody(n *html.Node) bool {
	return TagName(n) == "body"
}

// IsDocumentElement reports whether n is the <html> root element.
func IsDocumentElement(n *html.Node) bool {
	return TagName(n) == "html"
}

// ClassList returns the whitespace-separated tokens of the class attribute.
func ClassList(n *html.Node) []string {
	return strings.Fields(Attr(n, "class"))
}

// ExtractText joins the trimmed, non-empty text found under n, depth first,
// with newlines. A text node yields its own trimmed content.
func ExtractText(n *html.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.TextNode:
		return strings.TrimSpace(n.Data)
	case html.ElementNode, html.DocumentNode:
	default:
		return ""
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := strings.TrimSpace(ExtractText(c)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
