// Package dom is the document abstraction shared by the selector synthesizer,
// the fingerprint builder, the target resolver and the capture controller.
//
// Two backends implement it: dom/htmldoc (a parsed static HTML tree, layout
// approximated from markup) and dom/rodpage (a live Chrome tab driven by Rod).
// Locators are CSS selectors, the native query language of both.
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidLocator is returned by Document.QueryAll when the locator does not
// parse as a selector.
var ErrInvalidLocator = errors.New("dom: invalid locator")

// Rect is one client rectangle of a laid-out element, in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a reference to one element node. Accessors never fail: a backend
// that loses the node (detached, navigated away) reports zero values.
type Element interface {
	// Tag returns the lower-cased tag name.
	Tag() string
	// Attr returns the attribute value and whether the attribute is present.
	Attr(name string) (string, bool)
	// Text returns the rendered text content of the element.
	Text() string
	// Parent returns the parent element, or nil at the document root.
	Parent() Element
	// Children returns the element children in document order.
	Children() []Element
	// ClientRects returns the layout boxes of the element. Empty means the
	// element generates no box.
	ClientRects() []Rect
	// Same reports whether other refers to the same node.
	Same(other Element) bool
}

// Document is one page: a tree of elements plus the interactive operations
// the controller needs.
type Document interface {
	// Host is the site identity (host name) the document belongs to.
	Host() string
	// QueryAll returns every element matching locator, in document order.
	QueryAll(ctx context.Context, locator string) ([]Element, error)
	// Root returns the document element (<html>).
	Root() Element
	// Body returns <body>, or nil.
	Body() Element
	// ActiveElement returns the focused element, or nil.
	ActiveElement(ctx context.Context) Element
	// Focus gives el input focus.
	Focus(ctx context.Context, el Element) error
	// Click invokes the primary action of el.
	Click(ctx context.Context, el Element) error
	// SetAttr sets attribute name of el to value; an empty value removes it.
	SetAttr(ctx context.Context, el Element, name, value string) error
}

// TextFinder is implemented by documents that can search element text in
// one call instead of one accessor call per element.
type TextFinder interface {
	// FindByText returns the visible elements matching scope, other than
	// <html> and <body>, whose whitespace-collapsed NFC text equals text.
	FindByText(ctx context.Context, scope, text string) ([]Element, error)
}

// Container is implemented by elements that can test descendance directly.
type Container interface {
	Contains(other Element) bool
}

// Contains reports whether b is a strict descendant of a.
func Contains(a, b Element) bool {
	if c, ok := a.(Container); ok {
		return c.Contains(b)
	}
	for p := b.Parent(); p != nil; p = p.Parent() {
		if p.Same(a) {
			return true
		}
	}
	return false
}

// IsInteractive reports whether el has an activation behaviour of its own:
// a control, a link, or an element scripted to act as one.
func IsInteractive(el Element) bool {
	switch el.Tag() {
	case "a", "button", "input", "select", "textarea", "summary", "label", "option":
		return true
	}
	switch strings.ToLower(Attr(el, "role")) {
	case "button", "link", "menuitem", "tab", "checkbox", "radio", "switch", "option":
		return true
	}
	if _, ok := el.Attr("onclick"); ok {
		return true
	}
	_, ok := el.Attr("tabindex")
	return ok
}

// Attr returns the attribute value of el, empty when absent.
func Attr(el Element, name string) string {
	v, _ := el.Attr(name)
	return v
}

// ID returns the trimmed id attribute of el.
func ID(el Element) string {
	return strings.TrimSpace(Attr(el, "id"))
}

// Classes returns the class list of el.
func Classes(el Element) []string {
	return strings.Fields(Attr(el, "class"))
}

// IsTrivial reports whether el is a page root that can never be a binding
// target (nil, <html>, <body>).
func IsTrivial(el Element) bool {
	if el == nil {
		return true
	}
	switch el.Tag() {
	case "html", "body":
		return true
	}
	return false
}

// Count returns how many elements match locator. A locator that fails to
// parse counts as zero matches.
func Count(ctx context.Context, doc Document, locator string) int {
	els, err := doc.QueryAll(ctx, locator)
	if err != nil {
		return 0
	}
	return len(els)
}

// Unique reports whether locator matches exactly one element.
func Unique(ctx context.Context, doc Document, locator string) bool {
	return Count(ctx, doc, locator) == 1
}

// ElementIndex returns the 1-based position of el among its parent's element
// children and the number of those children. Root elements report (1, 1).
func ElementIndex(el Element) (index, siblings int) {
	p := el.Parent()
	if p == nil {
		return 1, 1
	}
	kids := p.Children()
	for i, k := range kids {
		if k.Same(el) {
			index = i + 1
		}
	}
	if index == 0 {
		index = 1
	}
	return index, len(kids)
}
