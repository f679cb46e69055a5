// Package fingerprint packages a locator with redundant identity signals
// (visible text, accessible label, tag) into a durable descriptor of one
// bound element.
package fingerprint

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/selector"
)

// MaxDisplayName is the display name length limit, in characters.
const MaxDisplayName = 20

// Generic display names used when an element carries no readable signal.
const (
	FallbackButton  = "Button"
	FallbackElement = "Element"
)

// Fingerprint is the persisted descriptor of a bound element.
type Fingerprint struct {
	Locator      string `json:"locator"`
	DisplayName  string `json:"display_name"`
	TextSnapshot string `json:"text"`
	AriaSnapshot string `json:"aria"`
	Tag          string `json:"tag"`
}

// Healable reports whether the fingerprint carries a secondary signal the
// resolver can heal from.
func (f Fingerprint) Healable() bool {
	return f.TextSnapshot != "" || f.AriaSnapshot != ""
}

// Kind is the closed set of element kinds name derivation distinguishes.
type Kind int

const (
	KindGeneric Kind = iota
	KindInput
)

// KindOf classifies el once; input-like elements take their name from a
// placeholder instead of text content.
func KindOf(el dom.Element) Kind {
	switch el.Tag() {
	case "input", "textarea", "select":
		return KindInput
	}
	return KindGeneric
}

// Builder builds fingerprints. The zero value is ready to use.
type Builder struct {
	Synth selector.Synthesizer
}

// Build captures el as it is now. It has no side effects on the document.
func (b *Builder) Build(ctx context.Context, doc dom.Document, el dom.Element) (Fingerprint, error) {
	if el == nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: nil element")
	}
	loc, err := b.Synth.Synthesize(ctx, doc, el)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: synthesize: %w", err)
	}

	text := Normalize(el.Text())
	aria := Normalize(dom.Attr(el, "aria-label"))
	return Fingerprint{
		Locator:      loc,
		DisplayName:  DisplayName(el, text, aria),
		TextSnapshot: text,
		AriaSnapshot: aria,
		Tag:          el.Tag(),
	}, nil
}

// DisplayName derives the short label of el. text and aria are the already
// normalised snapshots.
func DisplayName(el dom.Element, text, aria string) string {
	kind := KindOf(el)
	candidates := []string{text, aria, Normalize(dom.Attr(el, "title"))}
	if kind == KindInput {
		candidates = append(candidates, Normalize(dom.Attr(el, "placeholder")))
	}
	for _, c := range candidates {
		if c != "" {
			return Truncate(c, MaxDisplayName)
		}
	}
	if isButton(el) {
		return FallbackButton
	}
	return FallbackElement
}

func isButton(el dom.Element) bool {
	if el.Tag() == "button" || strings.EqualFold(dom.Attr(el, "role"), "button") {
		return true
	}
	if el.Tag() == "input" {
		switch strings.ToLower(dom.Attr(el, "type")) {
		case "button", "submit", "reset", "image":
			return true
		}
	}
	return false
}

// Normalize trims, collapses whitespace runs and applies NFC so snapshots
// taken from different backends compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Truncate cuts s to at most n characters, dropping trailing spaces left by
// the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimRight(string([]rune(s)[:n]), " ")
}
