package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/keybind/capture"
	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/dom/rodpage"
)

// uiTimeout bounds one presentation call.
const uiTimeout = 2 * time.Second

// UI implements capture.UI with the helpers the page script installs.
type UI struct {
	page   *rod.Page
	logger *slog.Logger
}

var _ capture.UI = (*UI)(nil)

// NewUI creates a UI over page.
func NewUI(page *rod.Page, logger *slog.Logger) *UI {
	if logger == nil {
		logger = slog.Default()
	}
	return &UI{page: page, logger: logger}
}

// Announce implements capture.UI.
func (u *UI) Announce(ctx context.Context, msg string) {
	u.call(ctx, "announce", `(m) => window.__keybind && window.__keybind.announce(m)`, msg)
}

// Highlight implements capture.UI.
func (u *UI) Highlight(ctx context.Context, el dom.Element) {
	u.onElement(ctx, "highlight", el, `() => window.__keybind && window.__keybind.highlight(this)`)
}

// ClearHighlight implements capture.UI.
func (u *UI) ClearHighlight(ctx context.Context) {
	u.call(ctx, "clear highlight", `() => window.__keybind && window.__keybind.clearHighlight()`)
}

// Pulse implements capture.UI.
func (u *UI) Pulse(ctx context.Context, el dom.Element) {
	u.onElement(ctx, "pulse", el, `() => window.__keybind && window.__keybind.pulse(this)`)
}

// ShowHelp implements capture.UI. html is already sanitised.
func (u *UI) ShowHelp(ctx context.Context, html string) {
	u.call(ctx, "show help", `(h) => window.__keybind && window.__keybind.showHelp(h)`, html)
}

// HideHelp implements capture.UI.
func (u *UI) HideHelp(ctx context.Context) {
	u.call(ctx, "hide help", `() => window.__keybind && window.__keybind.hideHelp()`)
}

func (u *UI) call(ctx context.Context, what, js string, args ...any) {
	ctx, cancel := context.WithTimeout(ctx, uiTimeout)
	defer cancel()
	if _, err := u.page.Context(ctx).Eval(js, args...); err != nil {
		u.logger.Debug("bridge: ui "+what, "error", err)
	}
}

func (u *UI) onElement(ctx context.Context, what string, el dom.Element, js string) {
	re, ok := rodpage.Rod(el)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, uiTimeout)
	defer cancel()
	if _, err := re.Context(ctx).Eval(js); err != nil {
		u.logger.Debug("bridge: ui "+what, "error", err)
	}
}
