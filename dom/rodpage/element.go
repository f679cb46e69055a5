package rodpage

import (
	"context"
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keybind/dom"
)

// Element is one live element of a Document.
type Element struct {
	el  *rod.Element
	doc *Document
}

var (
	_ dom.Sizer     = (*Element)(nil)
	_ dom.Container = (*Element)(nil)
)

func (e *Element) eval(js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.doc.timeout)
	defer cancel()
	return e.el.Context(ctx).Eval(js, args...)
}

// Tag implements dom.Element.
func (e *Element) Tag() string {
	res, err := e.eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	res, err := e.eval(`(n) => JSON.stringify(this.getAttribute(n))`, name)
	if err != nil {
		return "", false
	}
	var v *string
	if json.Unmarshal([]byte(res.Value.Str()), &v) != nil || v == nil {
		return "", false
	}
	return *v, true
}

// Text implements dom.Element; it is the element's innerText.
func (e *Element) Text() string {
	res, err := e.eval(`() => this.innerText || ""`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Parent implements dom.Element.
func (e *Element) Parent() dom.Element {
	return e.related(`() => this.parentElement`)
}

// Children implements dom.Element.
func (e *Element) Children() []dom.Element {
	ctx, cancel := context.WithTimeout(context.Background(), e.doc.timeout)
	defer cancel()
	els, err := e.el.Context(ctx).Elements(":scope > *")
	if err != nil {
		return nil
	}
	return e.doc.wrapAll(els)
}

// ClientRects implements dom.Element.
func (e *Element) ClientRects() []dom.Rect {
	res, err := e.eval(`() => JSON.stringify(Array.from(this.getClientRects(),
		r => ({x: r.x, y: r.y, width: r.width, height: r.height})))`)
	if err != nil {
		return nil
	}
	var out []dom.Rect
	if json.Unmarshal([]byte(res.Value.Str()), &out) != nil {
		return nil
	}
	return out
}

// OffsetSize implements dom.Sizer.
func (e *Element) OffsetSize() (width, height float64) {
	res, err := e.eval(`() => JSON.stringify([this.offsetWidth || 0, this.offsetHeight || 0])`)
	if err != nil {
		return 0, 0
	}
	var wh [2]float64
	if json.Unmarshal([]byte(res.Value.Str()), &wh) != nil {
		return 0, 0
	}
	return wh[0], wh[1]
}

// Same implements dom.Element.
func (e *Element) Same(other dom.Element) bool {
	o, ok := other.(*Element)
	if !ok || o == nil {
		return false
	}
	if e.el.Object.ObjectID == o.el.Object.ObjectID {
		return true
	}
	res, err := e.eval(`(o) => this === o`, o.el.Object)
	return err == nil && res.Value.Bool()
}

// Contains implements dom.Container.
func (e *Element) Contains(other dom.Element) bool {
	o, ok := other.(*Element)
	if !ok || o == nil {
		return false
	}
	res, err := e.eval(`(o) => this !== o && this.contains(o)`, o.el.Object)
	return err == nil && res.Value.Bool()
}

func (e *Element) related(js string) dom.Element {
	res, err := e.eval(js)
	if err != nil || res.ObjectID == "" || res.Subtype != proto.RuntimeRemoteObjectSubtypeNode {
		return nil
	}
	el, err := e.doc.page.ElementFromObject(res)
	if err != nil {
		return nil
	}
	return e.doc.wrap(el)
}
