package htmldoc

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/keybind/dom"
)

// nominalBox is the rectangle reported for any laid-out element. The static
// backend has no layout engine; only presence of a box matters.
var nominalBox = dom.Rect{Width: 1, Height: 1}

// Element is one element node of a Document.
type Element struct {
	n   *html.Node
	doc *Document
}

// Node exposes the underlying tree node.
func (e *Element) Node() *html.Node { return e.n }

// Tag implements dom.Element.
func (e *Element) Tag() string { return strings.ToLower(e.n.Data) }

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Text implements dom.Element. Non-rendered subtrees are skipped and block
// boundaries become spaces, like innerText.
func (e *Element) Text() string {
	var b strings.Builder
	collectText(e.n, &b)
	return b.String()
}

// Parent implements dom.Element.
func (e *Element) Parent() dom.Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

// Children implements dom.Element.
func (e *Element) Children() []dom.Element {
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

// ClientRects implements dom.Element.
func (e *Element) ClientRects() []dom.Rect {
	if !attached(e.n) {
		return nil
	}
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if hidden(n) {
			return nil
		}
	}
	return []dom.Rect{nominalBox}
}

// Same implements dom.Element.
func (e *Element) Same(other dom.Element) bool {
	o, ok := other.(*Element)
	return ok && o != nil && o.n == e.n
}

// String renders the element's opening tag, for logs.
func (e *Element) String() string {
	var b strings.Builder
	b.WriteString("<" + e.n.Data)
	for _, a := range e.n.Attr {
		b.WriteString(" " + a.Key + `="` + a.Val + `"`)
	}
	b.WriteString(">")
	return b.String()
}

func hidden(n *html.Node) bool {
	switch n.Data {
	case "head", "script", "style", "template", "noscript", "title", "meta", "link":
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			if displayNone.MatchString(a.Val) {
				return true
			}
		case "type":
			if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if hidden(n) {
			return
		}
	}
	block := n.Type == html.ElementNode && isBlock(n.Data)
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if block {
		b.WriteByte(' ')
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "address", "article", "aside", "blockquote", "br", "dd", "div", "dl", "dt",
		"fieldset", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6",
		"header", "hr", "li", "main", "nav", "ol", "p", "pre", "section", "table",
		"td", "th", "tr", "ul":
		return true
	}
	return false
}
