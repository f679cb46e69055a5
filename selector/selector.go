// Package selector synthesizes a minimal CSS locator for an element and
// verifies that it matches exactly one element of the document.
//
// Candidates are tried cheapest and most stable first:
//
//	#id                      identifier attribute
//	tag[attr="value"]        stable semantic attributes
//	tag.c1 / tag.c1.c2       class combinations minus transient classes
//	#anchor tag:nth-child(i) structural path
//
// The structural path is the only tier that always terminates, and the most
// fragile under markup changes; the resolver heals what it breaks.
package selector

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/keybind/dom"
)

// StableAttributes is the priority list of the attribute tier.
var StableAttributes = []string{
	"data-testid",
	"data-test",
	"aria-label",
	"role",
	"name",
	"title",
	"placeholder",
}

// transientClasses describe state, not identity.
var transientClasses = map[string]bool{
	"active":    true,
	"focus":     true,
	"focused":   true,
	"hover":     true,
	"highlight": true,
	"btn":       true,
	"button":    true,
}

// Tier names the waterfall step a locator came from.
type Tier string

const (
	TierID         Tier = "id"
	TierAttribute  Tier = "attribute"
	TierClass      Tier = "class"
	TierStructural Tier = "structural"
	TierStrict     Tier = "strict"
)

// Synthesizer builds locators. The zero value is ready to use.
type Synthesizer struct {
	// IgnoreClasses are extra transient classes, typically the agent's own
	// highlight and pulse classes.
	IgnoreClasses []string
}

// Synthesize returns a locator matching exactly one element: el. It returns
// "" only when el is nil.
func (s *Synthesizer) Synthesize(ctx context.Context, doc dom.Document, el dom.Element) (string, error) {
	loc, _, err := s.SynthesizeTier(ctx, doc, el)
	return loc, err
}

// SynthesizeTier is Synthesize and also reports which tier produced the
// locator.
func (s *Synthesizer) SynthesizeTier(ctx context.Context, doc dom.Document, el dom.Element) (string, Tier, error) {
	if el == nil {
		return "", "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	// Identifiers are expected to be unique, but pages reuse them.
	if id := dom.ID(el); id != "" {
		loc := "#" + EscapeIdent(id)
		if dom.Unique(ctx, doc, loc) {
			return loc, TierID, nil
		}
	}

	tag := el.Tag()

	for _, attr := range StableAttributes {
		v := dom.Attr(el, attr)
		if strings.TrimSpace(v) == "" {
			continue
		}
		loc := AttrEquals(tag, attr, v)
		if dom.Unique(ctx, doc, loc) {
			return loc, TierAttribute, nil
		}
	}

	if classes := s.stableClasses(el); len(classes) > 0 {
		loc := tag + "." + EscapeIdent(classes[0])
		if dom.Unique(ctx, doc, loc) {
			return loc, TierClass, nil
		}
		if len(classes) > 1 {
			loc += "." + EscapeIdent(classes[1])
			if dom.Unique(ctx, doc, loc) {
				return loc, TierClass, nil
			}
		}
	}

	if loc := structuralPath(ctx, doc, el); dom.Unique(ctx, doc, loc) {
		return loc, TierStructural, nil
	}

	return strictPath(el), TierStrict, nil
}

func (s *Synthesizer) stableClasses(el dom.Element) []string {
	var out []string
	for _, c := range dom.Classes(el) {
		if transientClasses[strings.ToLower(c)] || slices.Contains(s.IgnoreClasses, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// structuralPath walks from el to the nearest ancestor with a document-unique
// id, or to <body>, and joins the fragments with the descendant combinator.
func structuralPath(ctx context.Context, doc dom.Document, el dom.Element) string {
	var parts []string
	for cur := el; cur != nil; cur = cur.Parent() {
		tag := cur.Tag()
		if tag == "body" || tag == "html" {
			break
		}
		if !cur.Same(el) {
			if id := dom.ID(cur); id != "" {
				anchor := "#" + EscapeIdent(id)
				if dom.Unique(ctx, doc, anchor) {
					parts = append(parts, anchor)
					break
				}
			}
		}
		parts = append(parts, fragment(cur))
	}
	reverse(parts)
	return strings.Join(parts, " ")
}

// strictPath is a child-combinator path from the root element; it identifies
// exactly one node by construction.
func strictPath(el dom.Element) string {
	var parts []string
	for cur := el; cur != nil; cur = cur.Parent() {
		parts = append(parts, fragment(cur))
	}
	reverse(parts)
	return strings.Join(parts, " > ")
}

func fragment(el dom.Element) string {
	idx, n := dom.ElementIndex(el)
	if n > 1 {
		return el.Tag() + ":nth-child(" + strconv.Itoa(idx) + ")"
	}
	return el.Tag()
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
