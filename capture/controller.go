// Package capture is the page-context state machine. It decides whether
// input is an assignment (capture mode) or a trigger, builds and persists
// fingerprints for new bindings, and resolves stored bindings back to live
// elements when their chord is pressed.
//
// All events are serialised through Run; Dispatch posts one event and waits
// for its Result. The controller never returns page-facing errors: failures
// degrade to an announcement and a logged error.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/help"
	"github.com/hazyhaar/keybind/idgen"
	"github.com/hazyhaar/keybind/resolve"
	"github.com/hazyhaar/keybind/selector"
	"github.com/hazyhaar/keybind/store"
)

// DefaultPromptDelay separates the click announcement from the prompt so
// screen readers do not drop one of them.
const DefaultPromptDelay = 150 * time.Millisecond

// activationEcho is how long focus and click events on a just-triggered
// element are taken as echoes of the activation rather than user input.
const activationEcho = 500 * time.Millisecond

// ErrStopped is returned by Dispatch once Run has returned.
var ErrStopped = errors.New("capture: controller stopped")

// ErrTargetGone is reported when the captured element left the page before
// its key was pressed.
var ErrTargetGone = errors.New("capture: target no longer in the document")

// Chords is the key surface.
type Chords struct {
	Trigger      chord.Spec
	QuickCapture chord.Spec
	Help         chord.Spec
	Cancel       chord.Spec
}

// DefaultChords returns Alt+Shift+<key>, Ctrl+Shift+K, Ctrl+Shift+H, Escape.
func DefaultChords() Chords {
	return Chords{
		Trigger:      chord.MustParse("alt+shift"),
		QuickCapture: chord.MustParse("ctrl+shift+k"),
		Help:         chord.MustParse("ctrl+shift+h"),
		Cancel:       chord.MustParse("escape"),
	}
}

// Session is one open assignment.
type Session struct {
	ID      string
	Target  dom.Element
	Mode    Mode
	Name    string
	Started time.Time
}

type envelope struct {
	ev    Event
	ctx   context.Context
	reply chan Result
}

// Controller is the capture/trigger state machine of one page.
type Controller struct {
	shortcuts   *store.Shortcuts
	resolver    *resolve.Resolver
	builder     fingerprint.Builder
	ui          UI
	settings    bus.Sender
	chords      Chords
	promptDelay time.Duration
	newID       idgen.Generator
	logger      *slog.Logger

	events  chan envelope
	stopped chan struct{}
	running atomic.Bool
	current atomic.Int32
	bound   atomic.Pointer[[]string]

	// Owned by the Run goroutine.
	doc      dom.Document
	site     store.SiteMap
	state    State
	session  *Session
	hovered  dom.Element
	helpOpen bool
	prompt   *time.Timer

	activated   dom.Element
	activatedAt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithUI sets the page presentation.
func WithUI(ui UI) Option { return func(c *Controller) { c.ui = ui } }

// WithSettings sets where settings-context notifications go.
func WithSettings(s bus.Sender) Option { return func(c *Controller) { c.settings = s } }

// WithChords replaces DefaultChords.
func WithChords(ch Chords) Option { return func(c *Controller) { c.chords = ch } }

// WithPromptDelay sets the delay before the assignment prompt; 0 announces
// immediately.
func WithPromptDelay(d time.Duration) Option { return func(c *Controller) { c.promptDelay = d } }

// WithIDGenerator sets the session ID generator.
func WithIDGenerator(g idgen.Generator) Option { return func(c *Controller) { c.newID = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// New creates a Controller over the shortcut store.
func New(shortcuts *store.Shortcuts, opts ...Option) *Controller {
	c := &Controller{
		shortcuts:   shortcuts,
		ui:          NopUI{},
		chords:      DefaultChords(),
		promptDelay: DefaultPromptDelay,
		newID:       idgen.Session,
		events:      make(chan envelope, 16),
		stopped:     make(chan struct{}),
		site:        store.SiteMap{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	synth := selector.Synthesizer{IgnoreClasses: []string{HighlightClass, PulseClass}}
	c.builder = fingerprint.Builder{Synth: synth}
	c.resolver = resolve.New(
		resolve.WithHealer(shortcuts),
		resolve.WithSynthesizer(synth),
		resolve.WithLogger(c.logger),
	)
	return c
}

// Chords returns the key surface in use.
func (c *Controller) Chords() Chords { return c.chords }

// State returns the current state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.current.Load()) }

// BoundKeys returns the keys bound on the current site, sorted. Safe from
// any goroutine.
func (c *Controller) BoundKeys() []string {
	if p := c.bound.Load(); p != nil {
		return *p
	}
	return nil
}

// Run processes events until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("capture: Run called twice")
	}
	defer close(c.stopped)
	defer c.stopPrompt()

	c.logger.Info("capture: started",
		"trigger", c.chords.Trigger.String(), "quick_capture", c.chords.QuickCapture.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("capture: stopped")
			return ctx.Err()
		case env := <-c.events:
			evCtx := env.ctx
			if evCtx == nil {
				evCtx = ctx
			}
			res := c.handle(evCtx, env.ev)
			res.State = c.state
			c.current.Store(int32(c.state))
			if env.reply != nil {
				env.reply <- res
			}
		}
	}
}

// Dispatch posts ev to the Run loop and waits for its Result.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (Result, error) {
	env := envelope{ev: ev, ctx: ctx, reply: make(chan Result, 1)}
	select {
	case c.events <- env:
	case <-c.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-env.reply:
		return res, nil
	case <-c.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// HandleMessage implements bus.Handler for messages addressed to the page.
func (c *Controller) HandleMessage(ctx context.Context, m bus.Message) (*bus.Message, error) {
	res, err := c.Dispatch(ctx, Message{Msg: m})
	if errors.Is(err, ErrStopped) {
		return nil, bus.ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	return res.Reply, nil
}

// post queues an event without waiting; used by timers.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- envelope{ev: ev}:
	case <-c.stopped:
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) Result {
	switch ev := ev.(type) {
	case Navigate:
		return c.navigate(ctx, ev.Doc)
	case Reload:
		c.reload(ctx)
		return Result{Outcome: OutcomeReloaded}
	case SetCapture:
		return c.setCapture(ctx, ev.On)
	case Message:
		return c.message(ctx, ev.Msg)
	case promptDue:
		return c.announcePrompt(ctx, ev.session)
	}

	if c.doc == nil {
		return Result{Outcome: OutcomeIgnored}
	}

	switch ev := ev.(type) {
	case PointerHover:
		if ev.Target != nil && !IsOwnUI(ev.Target) {
			c.hovered = ev.Target
		}
		return Result{Outcome: OutcomeHovered}
	case PointerClick:
		return c.interact(ctx, ev.Target, ModeClick)
	case FocusChange:
		return c.interact(ctx, ev.Target, ModeFocus)
	case KeyDown:
		return c.keyDown(ctx, ev.Key)
	}
	return Result{Outcome: OutcomeIgnored}
}

func (c *Controller) navigate(ctx context.Context, doc dom.Document) Result {
	if c.session != nil {
		c.logger.Info("capture: session discarded by navigation", "session", c.session.ID)
	}
	c.endSession(ctx)
	if c.helpOpen {
		c.ui.HideHelp(ctx)
		c.helpOpen = false
	}
	c.state = StateIdle
	c.hovered = nil
	c.activated = nil
	c.doc = doc
	c.reload(ctx)
	host := ""
	if doc != nil {
		host = doc.Host()
	}
	c.logger.Debug("capture: navigated", "host", host, "bindings", len(c.site))
	return Result{Outcome: OutcomeNavigated}
}

func (c *Controller) reload(ctx context.Context) {
	defer func() {
		keys := c.site.Keys()
		c.bound.Store(&keys)
	}()
	if c.doc == nil {
		c.site = store.SiteMap{}
		return
	}
	m, err := c.shortcuts.Site(ctx, c.doc.Host())
	if err != nil {
		c.logger.Error("capture: load site map", "host", c.doc.Host(), "error", err)
		return
	}
	c.site = m
}

func (c *Controller) setCapture(ctx context.Context, on bool) Result {
	if on {
		if c.state == StateIdle {
			c.state = StateCaptureActive
			c.ui.Announce(ctx, msgCaptureOn)
			c.logger.Info("capture: mode on")
		}
		return Result{Outcome: OutcomeCaptureOn}
	}
	if c.state != StateIdle {
		c.endSession(ctx)
		c.state = StateIdle
		c.ui.Announce(ctx, msgCaptureOff)
		c.logger.Info("capture: mode off")
	}
	return Result{Outcome: OutcomeCaptureOff}
}

func (c *Controller) message(ctx context.Context, m bus.Message) Result {
	switch m.Action {
	case bus.ActionReload:
		c.reload(ctx)
		return Result{Outcome: OutcomeReloaded}
	case bus.ActionToggleCapture:
		return c.setCapture(ctx, m.On())
	case bus.ActionGetState:
		reply := bus.ReturnState(c.state != StateIdle)
		return Result{Outcome: OutcomeReplied, Reply: &reply}
	}
	c.logger.Debug("capture: unhandled message", "action", string(m.Action))
	return Result{Outcome: OutcomeIgnored}
}

// isEcho reports whether target is the element a trigger just focused and
// clicked.
func (c *Controller) isEcho(target dom.Element) bool {
	return c.activated != nil && target.Same(c.activated) && time.Since(c.activatedAt) < activationEcho
}

// interact handles a click or focus. Only capture mode reacts; a click while
// a key is awaited is left to the page.
func (c *Controller) interact(ctx context.Context, target dom.Element, mode Mode) Result {
	if c.state != StateCaptureActive || !eligible(target) || c.isEcho(target) {
		return Result{Outcome: OutcomeIgnored}
	}
	c.startSession(ctx, target, mode)
	return Result{Outcome: OutcomeSessionStarted, Suppress: true}
}

func (c *Controller) keyDown(ctx context.Context, e chord.KeyEvent) Result {
	if e.IsModifierKey() {
		return Result{Outcome: OutcomeIgnored}
	}

	if _, ok := c.chords.QuickCapture.Match(e); ok {
		return c.quickCapture(ctx)
	}

	if c.state == StateAwaitingKey {
		return c.assignKey(ctx, e)
	}

	if c.helpOpen {
		if _, ok := c.chords.Cancel.Match(e); ok {
			c.ui.HideHelp(ctx)
			c.helpOpen = false
			return Result{Outcome: OutcomeHelpHidden, Suppress: true}
		}
	}
	if _, ok := c.chords.Help.Match(e); ok {
		return c.toggleHelp(ctx)
	}
	if key, ok := c.chords.Trigger.Match(e); ok {
		return c.trigger(ctx, key)
	}
	return Result{Outcome: OutcomeIgnored}
}

func (c *Controller) quickCapture(ctx context.Context) Result {
	target := c.doc.ActiveElement(ctx)
	if !eligible(target) {
		target = c.hovered
	}
	if !eligible(target) || !dom.IsVisible(target) {
		c.ui.Announce(ctx, msgNoTarget)
		return Result{Outcome: OutcomeNoTarget, Suppress: true}
	}
	c.startSession(ctx, target, ModeQuick)
	return Result{Outcome: OutcomeSessionStarted, Suppress: true}
}

func (c *Controller) startSession(ctx context.Context, target dom.Element, mode Mode) {
	c.endSession(ctx)
	text := fingerprint.Normalize(target.Text())
	aria := fingerprint.Normalize(dom.Attr(target, "aria-label"))
	s := &Session{
		ID:      c.newID(),
		Target:  target,
		Mode:    mode,
		Name:    fingerprint.DisplayName(target, text, aria),
		Started: time.Now(),
	}
	c.session = s
	c.state = StateAwaitingKey
	c.ui.Highlight(ctx, target)
	c.logger.Info("capture: session started",
		"session", s.ID, "mode", string(mode), "host", c.doc.Host(), "name", s.Name)

	if c.promptDelay <= 0 {
		c.announcePrompt(ctx, s.ID)
		return
	}
	id := s.ID
	c.prompt = time.AfterFunc(c.promptDelay, func() { c.post(promptDue{session: id}) })
}

func (c *Controller) announcePrompt(ctx context.Context, id string) Result {
	if c.session == nil || c.session.ID != id {
		return Result{Outcome: OutcomeIgnored}
	}
	c.ui.Announce(ctx, msgPrompt(c.chords.Trigger.String(), c.session.Name))
	return Result{Outcome: OutcomePrompted}
}

func (c *Controller) assignKey(ctx context.Context, e chord.KeyEvent) Result {
	s := c.session
	if _, ok := c.chords.Cancel.Match(e); ok {
		c.logger.Info("capture: session cancelled", "session", s.ID)
		c.finish(ctx, msgCancelled)
		return Result{Outcome: OutcomeCancelled, Suppress: true}
	}

	key, ok := c.chords.Trigger.Match(e)
	if !ok {
		c.logger.Info("capture: invalid key", "session", s.ID, "key", e.Key, "code", e.Code)
		c.finish(ctx, msgInvalidKey(c.chords.Trigger.String()))
		return Result{Outcome: OutcomeInvalidKey, Suppress: true, Err: chord.ErrInvalidKey}
	}

	host := c.doc.Host()
	fp, err := c.builder.Build(ctx, c.doc, s.Target)
	if err == nil && !dom.Unique(ctx, c.doc, fp.Locator) {
		err = ErrTargetGone
		c.logger.Warn("capture: target gone", "session", s.ID, "locator", fp.Locator)
		c.finish(ctx, msgCaptureGone)
		return Result{Outcome: OutcomeFailed, Suppress: true, Key: key, Err: err}
	}
	if err != nil {
		c.logger.Error("capture: build fingerprint", "session", s.ID, "error", err)
		c.finish(ctx, msgCaptureError)
		return Result{Outcome: OutcomeFailed, Suppress: true, Key: key, Err: err}
	}

	overwrote, err := c.shortcuts.Assign(ctx, host, key, fp)
	if err != nil {
		c.logger.Error("capture: save binding", "session", s.ID, "host", host, "key", key, "error", err)
		c.finish(ctx, msgSaveFailed)
		return Result{Outcome: OutcomeFailed, Suppress: true, Key: key, Err: err}
	}
	c.reload(ctx)
	c.mark(ctx, s.Target, key)

	label := c.chords.Trigger.Label(key)
	c.logger.Info("capture: assigned",
		"session", s.ID, "host", host, "key", key, "locator", fp.Locator,
		"name", fp.DisplayName, "overwrote", overwrote)
	bus.Notify(ctx, c.settings, bus.Message{
		Action:   bus.ActionNewAssignment,
		Host:     host,
		Key:      key,
		Selector: fp.Locator,
	}, c.logger)
	c.finish(ctx, msgAssigned(label, fp.DisplayName, overwrote))
	return Result{Outcome: OutcomeAssigned, Suppress: true, Key: key, Overwrote: overwrote}
}

// finish ends the session, returns to Idle and tells both contexts.
func (c *Controller) finish(ctx context.Context, msg string) {
	c.endSession(ctx)
	c.state = StateIdle
	c.ui.Announce(ctx, msg)
	bus.Notify(ctx, c.settings, bus.Message{Action: bus.ActionSetStatus, Message: msg}, c.logger)
}

func (c *Controller) endSession(ctx context.Context) {
	c.stopPrompt()
	if c.session != nil {
		c.ui.ClearHighlight(ctx)
		c.session = nil
	}
}

func (c *Controller) stopPrompt() {
	if c.prompt != nil {
		c.prompt.Stop()
		c.prompt = nil
	}
}

func (c *Controller) toggleHelp(ctx context.Context) Result {
	if c.helpOpen {
		c.ui.HideHelp(ctx)
		c.helpOpen = false
		return Result{Outcome: OutcomeHelpHidden, Suppress: true}
	}
	entries := help.Entries(c.site, c.chords.Trigger)
	c.ui.ShowHelp(ctx, help.HTML(c.doc.Host(), entries))
	c.helpOpen = true
	return Result{Outcome: OutcomeHelpShown, Suppress: true}
}

func (c *Controller) trigger(ctx context.Context, key string) Result {
	fp, ok := c.site[key]
	if !ok {
		return Result{Outcome: OutcomeUnbound, Key: key}
	}
	label := c.chords.Trigger.Label(key)
	host := c.doc.Host()

	res, err := c.resolver.Resolve(ctx, c.doc, resolve.Target{Key: key, Fingerprint: fp, Others: c.site})
	if err != nil {
		if !errors.Is(err, resolve.ErrNotFound) {
			c.logger.Error("capture: resolve", "host", host, "key", key, "error", err)
		}
		c.logger.Info("capture: trigger target not found", "host", host, "key", key, "locator", fp.Locator)
		c.ui.Announce(ctx, msgNotFound(label, fp.DisplayName))
		return Result{Outcome: OutcomeNotFound, Suppress: true, Key: key, Err: err}
	}
	if res.Healed != nil {
		c.site[key] = *res.Healed
	}
	c.mark(ctx, res.Element, key)

	c.activated, c.activatedAt = res.Element, time.Now()
	if err := c.doc.Focus(ctx, res.Element); err != nil {
		c.logger.Warn("capture: focus", "host", host, "key", key, "error", err)
	}
	if err := c.doc.Click(ctx, res.Element); err != nil {
		c.logger.Error("capture: click", "host", host, "key", key, "error", err)
		c.ui.Announce(ctx, msgNotFound(label, fp.DisplayName))
		return Result{Outcome: OutcomeFailed, Suppress: true, Key: key, Err: err}
	}
	c.ui.Pulse(ctx, res.Element)
	c.ui.Announce(ctx, msgActivated(fp.DisplayName))
	c.logger.Info("capture: triggered", "host", host, "key", key, "method", string(res.Method))
	return Result{Outcome: OutcomeTriggered, Suppress: true, Key: key}
}

// mark moves key's page mark onto el so that later resolutions in this page
// can tell el apart from its namesakes.
func (c *Controller) mark(ctx context.Context, el dom.Element, key string) {
	prev, err := c.doc.QueryAll(ctx, "["+resolve.KeysAttr+"~="+selector.Quote(key)+"]")
	if err != nil {
		c.logger.Warn("capture: find marks", "key", key, "error", err)
	}
	marked := false
	for _, p := range prev {
		if p.Same(el) {
			marked = true
			continue
		}
		c.setMarks(ctx, p, slices.DeleteFunc(resolve.MarkedKeys(p), func(k string) bool { return k == key }))
	}
	if !marked {
		c.setMarks(ctx, el, append(resolve.MarkedKeys(el), key))
	}
}

func (c *Controller) setMarks(ctx context.Context, el dom.Element, keys []string) {
	if err := c.doc.SetAttr(ctx, el, resolve.KeysAttr, strings.Join(keys, " ")); err != nil {
		c.logger.Warn("capture: mark element", "keys", keys, "error", err)
	}
}
