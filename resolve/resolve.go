// Package resolve finds the live element behind a stored fingerprint and
// repairs stale locators from the fingerprint's secondary signals.
//
// The ladder, first success wins:
//
//  1. the stored locator, when it matches exactly one visible element;
//  2. an element whose visible text equals the text snapshot;
//  3. an element whose aria-label equals the aria snapshot.
//
// Steps 2 and 3 re-synthesize a locator for the element found and hand it to
// the Healer. A miss leaves the stored fingerprint untouched so that a later
// page state can still resolve it.
//
// Elements activated or captured in the current page carry their binding keys
// in the KeysAttr attribute. A locator that drifted onto another binding's
// marked element is treated as stale, and a heal prefers the element already
// marked with its own key.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/selector"
)

// KeysAttr is the live-DOM attribute listing, space separated, the binding
// keys last resolved to or captured on an element.
const KeysAttr = "data-keybind-keys"

// maxRanked bounds how many text or label candidates get a fresh locator for
// distance ranking; later ones rank as maximally distant.
const maxRanked = 8

// MarkedKeys returns the binding keys recorded on el.
func MarkedKeys(el dom.Element) []string {
	return strings.Fields(dom.Attr(el, KeysAttr))
}

// ErrNotFound is returned when no rung of the ladder finds a visible element.
var ErrNotFound = errors.New("resolve: element not found")

// Method names the rung that produced a Result.
type Method string

const (
	MethodLocator Method = "locator"
	MethodText    Method = "text"
	MethodLabel   Method = "label"
)

// Healer persists a repaired locator for the binding key on host.
type Healer interface {
	Heal(ctx context.Context, host, key, locator string) error
}

// HealerFunc adapts a function to Healer.
type HealerFunc func(ctx context.Context, host, key, locator string) error

// Heal implements Healer.
func (f HealerFunc) Heal(ctx context.Context, host, key, locator string) error {
	return f(ctx, host, key, locator)
}

// Target is one binding to resolve.
type Target struct {
	Key         string
	Fingerprint fingerprint.Fingerprint
	// Others are the remaining bindings of the same site. Elements they
	// currently resolve to are never chosen as heal candidates.
	Others map[string]fingerprint.Fingerprint
}

// Result is a resolved binding.
type Result struct {
	Element dom.Element
	Method  Method
	// Healed is the repaired fingerprint when Method is not MethodLocator.
	Healed *fingerprint.Fingerprint
}

// Resolver runs the ladder.
type Resolver struct {
	synth  selector.Synthesizer
	healer Healer
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHealer sets where repaired locators are written. Without one, healing
// still returns the element but persists nothing.
func WithHealer(h Healer) Option { return func(r *Resolver) { r.healer = h } }

// WithSynthesizer replaces the default synthesizer.
func WithSynthesizer(s selector.Synthesizer) Option { return func(r *Resolver) { r.synth = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve finds the element bound under t.Key in doc.
func (r *Resolver) Resolve(ctx context.Context, doc dom.Document, t Target) (*Result, error) {
	fp := t.Fingerprint

	if el := r.direct(ctx, doc, fp.Locator); el != nil {
		owner := otherOwner(el, t)
		if owner == "" {
			return &Result{Element: el, Method: MethodLocator}, nil
		}
		r.logger.Info("resolve: locator points at another binding",
			"host", doc.Host(), "key", t.Key, "locator", fp.Locator, "owner", owner)
	}

	claimed := r.claimed(ctx, doc, t)

	if fp.TextSnapshot != "" {
		cands, err := r.byText(ctx, doc, fp)
		if err != nil {
			return nil, err
		}
		if el := r.pick(ctx, doc, t, cands, claimed); el != nil {
			return r.heal(ctx, doc, t, el, MethodText)
		}
	}

	if fp.AriaSnapshot != "" {
		cands, err := doc.QueryAll(ctx, selector.AttrEquals("", "aria-label", fp.AriaSnapshot))
		if err != nil {
			return nil, fmt.Errorf("resolve: label query: %w", err)
		}
		if el := r.pick(ctx, doc, t, innermost(visible(cands)), claimed); el != nil {
			return r.heal(ctx, doc, t, el, MethodLabel)
		}
	}

	r.logger.Debug("resolve: not found", "host", doc.Host(), "key", t.Key, "locator", fp.Locator)
	return nil, ErrNotFound
}

func (r *Resolver) direct(ctx context.Context, doc dom.Document, locator string) dom.Element {
	if locator == "" {
		return nil
	}
	els, err := doc.QueryAll(ctx, locator)
	if err != nil || len(els) != 1 {
		return nil
	}
	if !dom.IsVisible(els[0]) {
		return nil
	}
	return els[0]
}

// otherOwner returns a sibling binding key marked on el, unless el is also
// marked with t.Key.
func otherOwner(el dom.Element, t Target) string {
	keys := MarkedKeys(el)
	if slices.Contains(keys, t.Key) {
		return ""
	}
	for _, k := range keys {
		if _, ok := t.Others[k]; ok && k != t.Key {
			return k
		}
	}
	return ""
}

// claimed returns the elements the other bindings of the site resolve to
// through their own locators.
func (r *Resolver) claimed(ctx context.Context, doc dom.Document, t Target) []dom.Element {
	var out []dom.Element
	for key, other := range t.Others {
		if key == t.Key {
			continue
		}
		if el := r.direct(ctx, doc, other.Locator); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// byText returns visible elements whose normalised text equals the snapshot.
// Elements with the recorded tag are searched first; the whole document only
// when none of them match. Wrappers that merely contain a match are dropped.
func (r *Resolver) byText(ctx context.Context, doc dom.Document, fp fingerprint.Fingerprint) ([]dom.Element, error) {
	scopes := []string{"*"}
	if fp.Tag != "" {
		scopes = []string{fp.Tag, "*"}
	}
	for _, scope := range scopes {
		out, err := r.textMatches(ctx, doc, scope, fp.TextSnapshot)
		if err != nil {
			return nil, err
		}
		if out = innermost(out); len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (r *Resolver) textMatches(ctx context.Context, doc dom.Document, scope, text string) ([]dom.Element, error) {
	if tf, ok := doc.(dom.TextFinder); ok {
		out, err := tf.FindByText(ctx, scope, text)
		if err != nil {
			return nil, fmt.Errorf("resolve: text query: %w", err)
		}
		return out, nil
	}
	els, err := doc.QueryAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve: text query: %w", err)
	}
	var out []dom.Element
	for _, el := range els {
		if dom.IsTrivial(el) || !dom.IsVisible(el) {
			continue
		}
		if fingerprint.Normalize(el.Text()) == text {
			out = append(out, el)
		}
	}
	return out, nil
}

// innermost drops matches that only wrap another match, so that a container
// sharing its child's text never wins over the child. A control keeps
// priority over plain text nested inside it: <a><span>Save</span></a> yields
// the link.
func innermost(els []dom.Element) []dom.Element {
	if len(els) < 2 {
		return els
	}
	active := make([]bool, len(els))
	for i, el := range els {
		active[i] = dom.IsInteractive(el)
	}
	var out []dom.Element
	for i, el := range els {
		keep := true
		for j, other := range els {
			if i == j {
				continue
			}
			if dom.Contains(el, other) && !(active[i] && !active[j]) {
				keep = false
				break
			}
			if dom.Contains(other, el) && active[j] && !active[i] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, el)
		}
	}
	return out
}

type candidate struct {
	el    dom.Element
	score int
	order int
}

// pick chooses the heal target among cands. Elements owned by another binding
// are skipped, either through that binding's locator or its mark. An element
// marked with t.Key comes first, then the same tag, then a matching aria
// label, then the fresh locator closest to the stale one. Remaining ties go
// to document order.
func (r *Resolver) pick(ctx context.Context, doc dom.Document, t Target, cands, claimed []dom.Element) dom.Element {
	fp := t.Fingerprint
	var ranked []candidate
	for i, el := range cands {
		c := candidate{el: el, order: i}
		switch {
		case slices.Contains(MarkedKeys(el), t.Key):
			c.score -= 10000
		case otherOwner(el, t) != "", contains(claimed, el):
			continue
		}
		if el.Tag() != fp.Tag {
			c.score += 1000
		}
		if fp.AriaSnapshot != "" && fingerprint.Normalize(dom.Attr(el, "aria-label")) != fp.AriaSnapshot {
			c.score += 100
		}
		switch {
		case len(cands) == 1 || fp.Locator == "":
		case len(ranked) < maxRanked:
			loc, err := r.synth.Synthesize(ctx, doc, el)
			if err == nil {
				c.score += min(levenshtein.ComputeDistance(fp.Locator, loc), 99)
			}
		default:
			c.score += 99
		}
		ranked = append(ranked, c)
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})
	return ranked[0].el
}

func (r *Resolver) heal(ctx context.Context, doc dom.Document, t Target, el dom.Element, m Method) (*Result, error) {
	loc, err := r.synth.Synthesize(ctx, doc, el)
	if err != nil {
		return nil, fmt.Errorf("resolve: resynthesize: %w", err)
	}
	healed := t.Fingerprint
	healed.Locator = loc

	if r.healer != nil && loc != t.Fingerprint.Locator {
		if err := r.healer.Heal(ctx, doc.Host(), t.Key, loc); err != nil {
			// The element was found; a failed write only means the next
			// trigger heals again.
			r.logger.Error("resolve: heal write failed",
				"host", doc.Host(), "key", t.Key, "locator", loc, "error", err)
		}
	}
	r.logger.Info("resolve: healed",
		"host", doc.Host(), "key", t.Key, "method", string(m),
		"old_locator", t.Fingerprint.Locator, "new_locator", loc)

	return &Result{Element: el, Method: m, Healed: &healed}, nil
}

func visible(els []dom.Element) []dom.Element {
	var out []dom.Element
	for _, el := range els {
		if dom.IsVisible(el) {
			out = append(out, el)
		}
	}
	return out
}

func contains(els []dom.Element, el dom.Element) bool {
	for _, e := range els {
		if e.Same(el) {
			return true
		}
	}
	return false
}
