// Package htmldoc implements dom.Document over a parsed golang.org/x/net/html
// tree. Queries go through cascadia; layout is approximated from markup, so an
// element is laid out when it is attached to the document and neither it nor
// an ancestor is hidden (hidden attribute, inline display:none, non-rendered
// tag, hidden input).
//
// Focus and click are recorded on the document so callers can observe what
// the controller activated. The tree can be mutated with Remove and
// AppendHTML to simulate a page changing under a stored fingerprint.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/keybind/dom"
)

var displayNone = regexp.MustCompile(`(?i)display\s*:\s*none`)

// Document is a static page.
type Document struct {
	host    string
	root    *html.Node
	active  *html.Node
	clicks  map[*html.Node]int
	onClick []func(dom.Element)
}

// Parse reads an HTML document belonging to host.
func Parse(r io.Reader, host string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return New(root, host), nil
}

// ParseString is Parse over a string.
func ParseString(s, host string) (*Document, error) {
	return Parse(strings.NewReader(s), host)
}

// New wraps an already parsed tree. root must be the html.DocumentNode.
func New(root *html.Node, host string) *Document {
	return &Document{
		host:   host,
		root:   root,
		clicks: make(map[*html.Node]int),
	}
}

// Host implements dom.Document.
func (d *Document) Host() string { return d.host }

// QueryAll implements dom.Document.
func (d *Document) QueryAll(_ context.Context, locator string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidLocator, locator, err)
	}
	nodes := sel.MatchAll(d.root)
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// Root implements dom.Document.
func (d *Document) Root() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	root := d.Root()
	if root == nil {
		return nil
	}
	for _, c := range root.Children() {
		if c.Tag() == "body" {
			return c
		}
	}
	return nil
}

// ActiveElement implements dom.Document. A focused node that has since been
// removed no longer counts as focused.
func (d *Document) ActiveElement(context.Context) dom.Element {
	if d.active == nil || !attached(d.active) {
		return nil
	}
	return d.wrap(d.active)
}

// Focus implements dom.Document.
func (d *Document) Focus(_ context.Context, el dom.Element) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	d.active = n
	return nil
}

// Click implements dom.Document. Hooks registered with OnClick run in
// registration order.
func (d *Document) Click(_ context.Context, el dom.Element) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	d.clicks[n]++
	for _, fn := range d.onClick {
		fn(el)
	}
	return nil
}

// SetAttr implements dom.Document.
func (d *Document) SetAttr(_ context.Context, el dom.Element, name, value string) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	name = strings.ToLower(name)
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		attrs = append(attrs, a)
	}
	if value != "" {
		attrs = append(attrs, html.Attribute{Key: name, Val: value})
	}
	n.Attr = attrs
	return nil
}

// OnClick registers fn to run on every Click.
func (d *Document) OnClick(fn func(dom.Element)) {
	d.onClick = append(d.onClick, fn)
}

// Clicks returns how many times el was clicked.
func (d *Document) Clicks(el dom.Element) int {
	n, err := d.node(el)
	if err != nil {
		return 0
	}
	return d.clicks[n]
}

// Find returns the first element matching locator, or nil.
func (d *Document) Find(locator string) dom.Element {
	els, err := d.QueryAll(context.Background(), locator)
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0]
}

// Remove detaches el from the tree.
func (d *Document) Remove(el dom.Element) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	return nil
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it. It returns the top-level elements inserted.
func (d *Document) AppendHTML(parent dom.Element, fragment string) ([]dom.Element, error) {
	p, err := d.node(parent)
	if err != nil {
		return nil, err
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse fragment: %w", err)
	}
	var out []dom.Element
	for _, n := range nodes {
		p.AppendChild(n)
		if n.Type == html.ElementNode {
			out = append(out, d.wrap(n))
		}
	}
	return out, nil
}

// Render serialises the current tree.
func (d *Document) Render() string {
	var buf bytes.Buffer
	html.Render(&buf, d.root)
	return buf.String()
}

func (d *Document) wrap(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return &Element{n: n, doc: d}
}

func (d *Document) node(el dom.Element) (*html.Node, error) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.doc != d {
		return nil, fmt.Errorf("htmldoc: element %T does not belong to this document", el)
	}
	return e.n, nil
}

func attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}
