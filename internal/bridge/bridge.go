// Package bridge connects a live tab to the capture controller. An injected
// script reports keyboard and pointer events through a CDP runtime binding;
// the bridge turns them into controller events and pushes the controller's
// state back so the script can cancel events synchronously.
package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/capture"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/dom/rodpage"
)

//go:embed bridge.js
var bridgeJS string

// BindingName is the runtime binding the page script calls.
const BindingName = "__keybind_binding"

// Controller is the part of capture.Controller the bridge drives.
type Controller interface {
	Dispatch(ctx context.Context, ev capture.Event) (capture.Result, error)
	BoundKeys() []string
	Chords() capture.Chords
}

// pageEvent is one binding payload.
type pageEvent struct {
	Type   string         `json:"type"`
	Key    chord.KeyEvent `json:"key"`
	Target int            `json:"target"`
}

type chordConfig struct {
	Mods chord.Modifiers `json:"mods"`
	Key  string          `json:"key"`
}

// pageConfig is what the script needs to decide suppression on its own.
type pageConfig struct {
	State          string      `json:"state"`
	HelpOpen       bool        `json:"help_open"`
	Bound          []string    `json:"bound"`
	Trigger        chordConfig `json:"trigger"`
	Quick          chordConfig `json:"quick"`
	Help           chordConfig `json:"help"`
	Cancel         chordConfig `json:"cancel"`
	HighlightClass string      `json:"highlight_class"`
	PulseClass     string      `json:"pulse_class"`
}

func specConfig(s chord.Spec) chordConfig {
	return chordConfig{Mods: s.Mods, Key: s.Key}
}

// Bridge pumps page events into a Controller.
type Bridge struct {
	page   *rod.Page
	ctrl   Controller
	logger *slog.Logger
	events chan any

	mu       sync.Mutex
	doc      *rodpage.Document
	state    capture.State
	helpOpen bool
}

// New creates a Bridge for page.
func New(page *rod.Page, ctrl Controller, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		page:   page,
		ctrl:   ctrl,
		logger: logger,
		events: make(chan any, 256),
	}
}

// Install registers the binding and the script (for this document and every
// later one) and hands the current document to the controller.
func (b *Bridge) Install(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(b.page); err != nil {
		return fmt.Errorf("bridge: add binding: %w", err)
	}
	if _, err := b.page.EvalOnNewDocument(bridgeJS); err != nil {
		return fmt.Errorf("bridge: register script: %w", err)
	}
	if _, err := b.page.Context(ctx).Eval(`() => {` + bridgeJS + `}`); err != nil {
		return fmt.Errorf("bridge: inject script: %w", err)
	}
	doc, err := rodpage.New(b.page)
	if err != nil {
		return err
	}
	return b.navigate(ctx, doc)
}

// Run receives page events until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	wait := b.page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != BindingName {
				return
			}
			var ev pageEvent
			if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
				b.logger.Warn("bridge: parse binding payload", "error", err)
				return
			}
			b.enqueue(ev)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			b.enqueue(e.Frame)
		},
	)
	go wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-b.events:
			b.process(ctx, raw)
		}
	}
}

func (b *Bridge) enqueue(v any) {
	select {
	case b.events <- v:
	default:
		b.logger.Warn("bridge: event queue full, dropping event")
	}
}

func (b *Bridge) process(ctx context.Context, raw any) {
	switch v := raw.(type) {
	case *proto.PageFrame:
		doc, err := rodpage.New(b.page, rodpage.WithHost(rodpage.HostOf(v.URL)))
		if err != nil {
			b.logger.Warn("bridge: new document", "error", err)
			return
		}
		if err := b.navigate(ctx, doc); err != nil {
			b.logger.Warn("bridge: navigate", "url", v.URL, "error", err)
		}
	case pageEvent:
		ev, ok := b.translate(ctx, v)
		if !ok {
			if v.Type == "ready" {
				b.sync(ctx)
			}
			return
		}
		if _, err := b.Dispatch(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("bridge: dispatch", "type", v.Type, "error", err)
		}
	}
}

// translate maps a page event to a controller event. Targets are fetched
// from the script's hand-off table by ID.
func (b *Bridge) translate(ctx context.Context, ev pageEvent) (capture.Event, bool) {
	switch ev.Type {
	case "key":
		return capture.KeyDown{Key: ev.Key}, true
	case "click", "focus", "hover":
		el := b.target(ctx, ev.Target)
		if el == nil {
			return nil, false
		}
		switch ev.Type {
		case "click":
			return capture.PointerClick{Target: el}, true
		case "focus":
			return capture.FocusChange{Target: el}, true
		}
		return capture.PointerHover{Target: el}, true
	}
	return nil, false
}

func (b *Bridge) target(ctx context.Context, id int) dom.Element {
	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		return nil
	}
	return doc.ElementByJS(ctx, `(id) => window.__keybind && window.__keybind.take(id)`, id)
}

func (b *Bridge) navigate(ctx context.Context, doc *rodpage.Document) error {
	b.mu.Lock()
	b.doc = doc
	b.mu.Unlock()
	_, err := b.Dispatch(ctx, capture.Navigate{Doc: doc})
	return err
}

// Dispatch forwards ev to the controller and pushes the resulting state to
// the page.
func (b *Bridge) Dispatch(ctx context.Context, ev capture.Event) (capture.Result, error) {
	res, err := b.ctrl.Dispatch(ctx, ev)
	if err != nil {
		return res, err
	}
	b.mu.Lock()
	b.state = res.State
	switch res.Outcome {
	case capture.OutcomeHelpShown:
		b.helpOpen = true
	case capture.OutcomeHelpHidden, capture.OutcomeNavigated:
		b.helpOpen = false
	}
	b.mu.Unlock()
	b.sync(ctx)
	if res.Err != nil {
		b.logger.Debug("bridge: event degraded", "outcome", string(res.Outcome), "error", res.Err)
	}
	return res, nil
}

// HandleMessage implements bus.Handler so settings-context messages reach
// the controller through the bridge and the page sees state changes.
func (b *Bridge) HandleMessage(ctx context.Context, m bus.Message) (*bus.Message, error) {
	res, err := b.Dispatch(ctx, capture.Message{Msg: m})
	if errors.Is(err, capture.ErrStopped) {
		return nil, bus.ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	return res.Reply, nil
}

func (b *Bridge) config() pageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.ctrl.Chords()
	bound := b.ctrl.BoundKeys()
	if bound == nil {
		bound = []string{}
	}
	return pageConfig{
		State:          b.state.String(),
		HelpOpen:       b.helpOpen,
		Bound:          bound,
		Trigger:        specConfig(ch.Trigger),
		Quick:          specConfig(ch.QuickCapture),
		Help:           specConfig(ch.Help),
		Cancel:         specConfig(ch.Cancel),
		HighlightClass: capture.HighlightClass,
		PulseClass:     capture.PulseClass,
	}
}

func (b *Bridge) sync(ctx context.Context) {
	if b.page == nil {
		return
	}
	if _, err := b.page.Context(ctx).Eval(`(c) => window.__keybind && window.__keybind.configure(c)`, b.config()); err != nil {
		b.logger.Debug("bridge: push config", "error", err)
	}
}
