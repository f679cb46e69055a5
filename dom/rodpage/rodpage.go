// Package rodpage implements dom.Document over a live Chrome tab driven by
// go-rod. Every accessor is one CDP round trip bounded by the document's
// operation timeout; a node that disappears mid-call reports zero values.
package rodpage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keybind/dom"
)

// DefaultTimeout bounds one accessor call.
const DefaultTimeout = 2 * time.Second

const validJS = `(sel) => { try { document.querySelector(sel); return true } catch (e) { return false } }`

const findTextJS = `(scope, text) => Array.from(document.querySelectorAll(scope)).filter((el) => {
	if (el === document.documentElement || el === document.body) return false;
	if (!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)) return false;
	return (el.innerText || "").split(/\s+/).filter(Boolean).join(" ").normalize("NFC") === text;
})`

var (
	_ dom.Document   = (*Document)(nil)
	_ dom.TextFinder = (*Document)(nil)
)

// Document is one loaded page of a tab. A navigation invalidates it: build a
// new Document for the new page.
type Document struct {
	page    *rod.Page
	host    string
	timeout time.Duration
}

// Option configures a Document.
type Option func(*Document)

// WithTimeout sets the per-accessor timeout.
func WithTimeout(d time.Duration) Option { return func(doc *Document) { doc.timeout = d } }

// WithHost overrides the host read from the page URL.
func WithHost(h string) Option { return func(doc *Document) { doc.host = h } }

// New wraps page. The host is taken from the page's current URL.
func New(page *rod.Page, opts ...Option) (*Document, error) {
	d := &Document{page: page, timeout: DefaultTimeout}
	for _, o := range opts {
		o(d)
	}
	if d.host == "" {
		info, err := page.Info()
		if err != nil {
			return nil, fmt.Errorf("rodpage: page info: %w", err)
		}
		d.host = HostOf(info.URL)
	}
	return d, nil
}

// HostOf returns the lower-cased host name of rawURL, without port. URLs
// without a host (about:blank, data:) map to "".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Page returns the underlying tab.
func (d *Document) Page() *rod.Page { return d.page }

// Host implements dom.Document.
func (d *Document) Host() string { return d.host }

// QueryAll implements dom.Document. The locator is checked by the browser's
// own selector parser before querying.
func (d *Document) QueryAll(ctx context.Context, locator string) ([]dom.Element, error) {
	p := d.page.Context(ctx)
	ok, err := p.Eval(validJS, locator)
	if err != nil {
		return nil, fmt.Errorf("rodpage: query: %w", err)
	}
	if !ok.Value.Bool() {
		return nil, fmt.Errorf("%w: %q", dom.ErrInvalidLocator, locator)
	}
	els, err := p.Elements(locator)
	if err != nil {
		return nil, fmt.Errorf("rodpage: query %q: %w", locator, err)
	}
	return d.wrapAll(els), nil
}

// Root implements dom.Document.
func (d *Document) Root() dom.Element {
	return d.byJS(context.Background(), `() => document.documentElement`)
}

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	return d.byJS(context.Background(), `() => document.body`)
}

// ActiveElement implements dom.Document.
func (d *Document) ActiveElement(ctx context.Context) dom.Element {
	return d.byJS(ctx, `() => document.activeElement`)
}

// ActivationFlag is the window property that is true while Focus and Click
// run, so page listeners can tell the agent's activation from user input.
const ActivationFlag = "__keybind_activating"

var (
	focusJS = activationJS(`this.focus()`)
	clickJS = activationJS(`this.click()`)
)

// activationJS wraps call so ActivationFlag is set for the synchronous
// dispatch of the events it raises.
func activationJS(call string) string {
	return `() => { window.` + ActivationFlag + ` = true; try { ` + call +
		`; } finally { window.` + ActivationFlag + ` = false; } }`
}

// Focus implements dom.Document.
func (d *Document) Focus(ctx context.Context, el dom.Element) error {
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	if _, err := e.Context(ctx).Eval(focusJS); err != nil {
		return fmt.Errorf("rodpage: focus: %w", err)
	}
	return nil
}

// Click implements dom.Document. It runs the element's click() so overlays
// covering the element do not swallow the activation.
func (d *Document) Click(ctx context.Context, el dom.Element) error {
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	if _, err := e.Context(ctx).Eval(clickJS); err != nil {
		return fmt.Errorf("rodpage: click: %w", err)
	}
	return nil
}

// SetAttr implements dom.Document.
func (d *Document) SetAttr(ctx context.Context, el dom.Element, name, value string) error {
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	if _, err := e.Context(ctx).Eval(`(n, v) => v === "" ? this.removeAttribute(n) : this.setAttribute(n, v)`, name, value); err != nil {
		return fmt.Errorf("rodpage: set attribute: %w", err)
	}
	return nil
}

// FindByText implements dom.TextFinder with a single evaluation in the page.
func (d *Document) FindByText(ctx context.Context, scope, text string) ([]dom.Element, error) {
	els, err := d.page.Context(ctx).ElementsByJS(rod.Eval(findTextJS, scope, text))
	if err != nil {
		return nil, fmt.Errorf("rodpage: find text: %w", err)
	}
	return d.wrapAll(els), nil
}

// ElementByJS evaluates js (a function returning one element or null) and
// wraps the result. It returns nil when the function returns no element.
func (d *Document) ElementByJS(ctx context.Context, js string, args ...any) dom.Element {
	return d.byJS(ctx, js, args...)
}

func (d *Document) byJS(ctx context.Context, js string, args ...any) dom.Element {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.page.Context(ctx).Eval(js, args...)
	if err != nil || res.ObjectID == "" || res.Subtype != proto.RuntimeRemoteObjectSubtypeNode {
		return nil
	}
	el, err := d.page.ElementFromObject(res)
	if err != nil {
		return nil
	}
	return d.wrap(el)
}

func (d *Document) wrap(el *rod.Element) dom.Element {
	if el == nil {
		return nil
	}
	return &Element{el: el, doc: d}
}

func (d *Document) wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, d.wrap(el))
	}
	return out
}

func (d *Document) unwrap(el dom.Element) (*rod.Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.doc != d {
		return nil, fmt.Errorf("rodpage: element does not belong to this document")
	}
	return e.el, nil
}

// Rod returns the rod element behind el, if el comes from this package.
func Rod(el dom.Element) (*rod.Element, bool) {
	e, ok := el.(*Element)
	if !ok || e == nil {
		return nil, false
	}
	return e.el, true
}
