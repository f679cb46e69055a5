package capture

import (
	"context"

	"github.com/hazyhaar/keybind/dom"
)

// OwnUIAttr marks elements injected by the agent (overlay, live region).
// They and their descendants are never capture targets.
const OwnUIAttr = "data-keybind"

// Agent-owned classes, excluded from synthesized locators.
const (
	HighlightClass = "kb-capture-highlight"
	PulseClass     = "kb-trigger-pulse"
)

// UI is the page-side presentation the controller drives. Implementations
// must not block for long; failures are theirs to log.
type UI interface {
	// Announce speaks msg through a polite live region.
	Announce(ctx context.Context, msg string)
	// Highlight outlines the element being captured.
	Highlight(ctx context.Context, el dom.Element)
	// ClearHighlight removes the capture outline.
	ClearHighlight(ctx context.Context)
	// Pulse flashes an element that was just triggered.
	Pulse(ctx context.Context, el dom.Element)
	// ShowHelp opens the help overlay with the given sanitised markup.
	ShowHelp(ctx context.Context, html string)
	// HideHelp closes the help overlay.
	HideHelp(ctx context.Context)
}

// NopUI ignores everything.
type NopUI struct{}

func (NopUI) Announce(context.Context, string)       {}
func (NopUI) Highlight(context.Context, dom.Element) {}
func (NopUI) ClearHighlight(context.Context)         {}
func (NopUI) Pulse(context.Context, dom.Element)     {}
func (NopUI) ShowHelp(context.Context, string)       {}
func (NopUI) HideHelp(context.Context)               {}

// IsOwnUI reports whether el belongs to the agent's injected UI.
func IsOwnUI(el dom.Element) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if _, ok := cur.Attr(OwnUIAttr); ok {
			return true
		}
	}
	return false
}

// eligible reports whether el may be captured.
func eligible(el dom.Element) bool {
	return !dom.IsTrivial(el) && !IsOwnUI(el)
}
