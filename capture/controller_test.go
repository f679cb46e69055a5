package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dom"
	"github.com/hazyhaar/keybind/dom/htmldoc"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/help"
	"github.com/hazyhaar/keybind/resolve"
	"github.com/hazyhaar/keybind/store"
)

const page = `<!DOCTYPE html><html><head><title>Shop</title></head><body>
<header><a href="/" id="home">Home</a><input id="search" placeholder="Search"></header>
<main>
  <form><button id="submit-btn">Send</button></form>
  <p><a href="/help" class="help-link">Help</a></p>
</main>
<div data-keybind="overlay"><button id="kb-close">Close</button></div>
</body></html>`

type recordingUI struct {
	mu          sync.Mutex
	announced   []string
	highlighted []dom.Element
	cleared     int
	pulsed      []dom.Element
	helpHTML    string
	helpOpen    bool
}

func (u *recordingUI) Announce(_ context.Context, msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.announced = append(u.announced, msg)
}

func (u *recordingUI) Highlight(_ context.Context, el dom.Element) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.highlighted = append(u.highlighted, el)
}

func (u *recordingUI) ClearHighlight(context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cleared++
}

func (u *recordingUI) Pulse(_ context.Context, el dom.Element) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pulsed = append(u.pulsed, el)
}

func (u *recordingUI) ShowHelp(_ context.Context, html string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.helpHTML, u.helpOpen = html, true
}

func (u *recordingUI) HideHelp(context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.helpOpen = false
}

func (u *recordingUI) last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.announced) == 0 {
		return ""
	}
	return u.announced[len(u.announced)-1]
}

func (u *recordingUI) saw(substr string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, a := range u.announced {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}

type harness struct {
	c        *Controller
	doc      *htmldoc.Document
	kv       *store.MemoryKV
	st       *store.Shortcuts
	ui       *recordingUI
	settings *bus.Recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	doc, err := htmldoc.ParseString(page, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		doc:      doc,
		kv:       store.NewMemoryKV(),
		ui:       &recordingUI{},
		settings: &bus.Recorder{},
	}
	h.st = store.NewShortcuts(h.kv)
	var settings bus.Local
	settings.Attach(h.settings)

	all := append([]Option{WithUI(h.ui), WithSettings(&settings), WithPromptDelay(0)}, opts...)
	h.c = New(h.st, all...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.dispatch(t, Navigate{Doc: doc})
	return h
}

func (h *harness) dispatch(t *testing.T, ev Event) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.c.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("Dispatch(%T): %v", ev, err)
	}
	return res
}

func (h *harness) find(t *testing.T, loc string) dom.Element {
	t.Helper()
	el := h.doc.Find(loc)
	if el == nil {
		t.Fatalf("fixture: %s not found", loc)
	}
	return el
}

func altShift(k string) KeyDown {
	return KeyDown{Key: chord.KeyEvent{Key: strings.ToUpper(k), Code: "Key" + strings.ToUpper(k), Alt: true, Shift: true}}
}

var (
	escape     = KeyDown{Key: chord.KeyEvent{Key: "Escape", Code: "Escape"}}
	quickChord = KeyDown{Key: chord.KeyEvent{Key: "K", Code: "KeyK", Ctrl: true, Shift: true}}
	helpChord  = KeyDown{Key: chord.KeyEvent{Key: "H", Code: "KeyH", Ctrl: true, Shift: true}}
)

func (h *harness) capture(t *testing.T, el dom.Element, key string) Result {
	t.Helper()
	h.dispatch(t, SetCapture{On: true})
	if res := h.dispatch(t, PointerClick{Target: el}); res.Outcome != OutcomeSessionStarted {
		t.Fatalf("click in capture mode: %+v", res)
	}
	return h.dispatch(t, altShift(key))
}

func TestAssignAndTrigger(t *testing.T) {
	h := newHarness(t)
	btn := h.find(t, "#submit-btn")

	if res := h.dispatch(t, SetCapture{On: true}); res.State != StateCaptureActive {
		t.Fatalf("after enable: %+v", res)
	}
	res := h.dispatch(t, PointerClick{Target: btn})
	if res.Outcome != OutcomeSessionStarted || !res.Suppress || res.State != StateAwaitingKey {
		t.Fatalf("click: %+v", res)
	}
	if len(h.ui.highlighted) != 1 || !h.ui.highlighted[0].Same(btn) {
		t.Error("target not highlighted")
	}
	if !h.ui.saw("assign a shortcut to Send") {
		t.Errorf("no prompt: %v", h.ui.announced)
	}

	res = h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeAssigned || res.Key != "g" || res.Overwrote || res.State != StateIdle {
		t.Fatalf("assign: %+v", res)
	}
	if h.c.State() != StateIdle {
		t.Errorf("capture did not auto-disable: %s", h.c.State())
	}
	if h.ui.last() != "Alt+Shift+G now activates Send." {
		t.Errorf("confirmation: %q", h.ui.last())
	}

	m, _ := h.st.Site(context.Background(), "example.com")
	want := fingerprint.Fingerprint{Locator: "#submit-btn", DisplayName: "Send", TextSnapshot: "Send", Tag: "button"}
	if m["g"] != want {
		t.Errorf("stored %+v, want %+v", m["g"], want)
	}

	msg, ok := h.settings.Last(bus.ActionNewAssignment)
	if !ok || msg.Key != "g" || msg.Selector != "#submit-btn" || msg.Host != "example.com" {
		t.Errorf("NEW_ASSIGNMENT_READY: %+v, %v", msg, ok)
	}
	if keys := h.c.BoundKeys(); len(keys) != 1 || keys[0] != "g" {
		t.Errorf("BoundKeys: %v", keys)
	}

	res = h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeTriggered || !res.Suppress {
		t.Fatalf("trigger: %+v", res)
	}
	if h.doc.Clicks(btn) != 1 {
		t.Errorf("clicks: %d", h.doc.Clicks(btn))
	}
	if active := h.doc.ActiveElement(context.Background()); active == nil || !active.Same(btn) {
		t.Error("trigger did not focus the element")
	}
	if len(h.ui.pulsed) != 1 || h.ui.last() != "Activated Send." {
		t.Errorf("pulse %d, announcement %q", len(h.ui.pulsed), h.ui.last())
	}
}

func TestEscapeCancelsWithoutWrite(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})

	res := h.dispatch(t, escape)
	if res.Outcome != OutcomeCancelled || res.State != StateIdle {
		t.Fatalf("escape: %+v", res)
	}
	if h.kv.Writes() != 0 {
		t.Errorf("cancel wrote storage %d times", h.kv.Writes())
	}
	if h.ui.cleared == 0 {
		t.Error("highlight not cleared")
	}
	if h.ui.last() != msgCancelled {
		t.Errorf("announcement: %q", h.ui.last())
	}
}

func TestEmptySite(t *testing.T) {
	h := newHarness(t)

	res := h.dispatch(t, altShift("x"))
	if res.Outcome != OutcomeUnbound || res.Suppress {
		t.Errorf("unbound trigger: %+v", res)
	}
	if len(h.ui.announced) != 0 {
		t.Errorf("unbound trigger announced %v", h.ui.announced)
	}

	res = h.dispatch(t, helpChord)
	if res.Outcome != OutcomeHelpShown {
		t.Fatalf("help: %+v", res)
	}
	if !strings.Contains(h.ui.helpHTML, "No shortcuts for this site yet.") {
		t.Errorf("help html: %s", h.ui.helpHTML)
	}
	if res := h.dispatch(t, helpChord); res.Outcome != OutcomeHelpHidden || h.ui.helpOpen {
		t.Errorf("second help press: %+v", res)
	}
}

func TestHelpListsBindingsAndEscapeCloses(t *testing.T) {
	h := newHarness(t)
	h.capture(t, h.find(t, "#submit-btn"), "g")

	h.dispatch(t, helpChord)
	want := help.HTML("example.com", []help.Entry{{Key: "g", Chord: "Alt+Shift+G", Name: "Send"}})
	if h.ui.helpHTML != want {
		t.Errorf("help html:\n%s\nwant\n%s", h.ui.helpHTML, want)
	}
	if res := h.dispatch(t, escape); res.Outcome != OutcomeHelpHidden || h.ui.helpOpen {
		t.Errorf("escape on help: %+v", res)
	}
}

func TestInvalidKeyCancels(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})

	for _, ev := range []KeyDown{
		{Key: chord.KeyEvent{Key: "Alt", Code: "AltLeft", Alt: true}},
		{Key: chord.KeyEvent{Key: "Shift", Code: "ShiftLeft", Alt: true, Shift: true}},
	} {
		if res := h.dispatch(t, ev); res.Outcome != OutcomeIgnored || res.State != StateAwaitingKey {
			t.Fatalf("bare modifier: %+v", res)
		}
	}

	res := h.dispatch(t, KeyDown{Key: chord.KeyEvent{Key: "a", Code: "KeyA"}})
	if res.Outcome != OutcomeInvalidKey || res.State != StateIdle || !errors.Is(res.Err, chord.ErrInvalidKey) {
		t.Fatalf("invalid key: %+v", res)
	}
	if h.kv.Writes() != 0 {
		t.Error("invalid key wrote storage")
	}
	if !strings.HasPrefix(h.ui.last(), "Invalid key.") {
		t.Errorf("announcement: %q", h.ui.last())
	}
	if msg, ok := h.settings.Last(bus.ActionSetStatus); !ok || !strings.HasPrefix(msg.Message, "Invalid key.") {
		t.Errorf("status push: %+v", msg)
	}
}

func TestAltShiftPunctuationIsInvalid(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})
	res := h.dispatch(t, KeyDown{Key: chord.KeyEvent{Key: ":", Code: "Semicolon", Alt: true, Shift: true}})
	if res.Outcome != OutcomeInvalidKey {
		t.Fatalf("got %+v", res)
	}
}

func TestQuickCaptureFocusedThenHovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	search := h.find(t, "#search")

	h.doc.Focus(ctx, search)
	res := h.dispatch(t, quickChord)
	if res.Outcome != OutcomeSessionStarted || res.State != StateAwaitingKey {
		t.Fatalf("quick capture: %+v", res)
	}
	h.dispatch(t, altShift("s"))

	link := h.find(t, ".help-link")
	h.doc.Remove(search) // drops focus
	h.dispatch(t, PointerHover{Target: link})
	if res := h.dispatch(t, quickChord); res.Outcome != OutcomeSessionStarted {
		t.Fatalf("hover quick capture: %+v", res)
	}
	h.dispatch(t, altShift("h"))

	m, _ := h.st.Site(ctx, "example.com")
	if m["s"].Locator != "#search" || m["s"].DisplayName != "Search" {
		t.Errorf("s: %+v", m["s"])
	}
	if m["h"].Locator != "a.help-link" {
		t.Errorf("h: %+v", m["h"])
	}
}

func TestQuickCaptureWithoutTarget(t *testing.T) {
	h := newHarness(t)
	res := h.dispatch(t, quickChord)
	if res.Outcome != OutcomeNoTarget || res.State != StateIdle {
		t.Fatalf("got %+v", res)
	}
	if h.ui.last() != msgNoTarget {
		t.Errorf("announcement: %q", h.ui.last())
	}
}

func TestOverwriteIsReported(t *testing.T) {
	h := newHarness(t)
	h.capture(t, h.find(t, "#home"), "g")
	res := h.capture(t, h.find(t, "#submit-btn"), "g")
	if res.Outcome != OutcomeAssigned || !res.Overwrote {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(h.ui.last(), "replacing") {
		t.Errorf("announcement: %q", h.ui.last())
	}
	m, _ := h.st.Site(context.Background(), "example.com")
	if len(m) != 1 || m["g"].Locator != "#submit-btn" {
		t.Errorf("stored: %+v", m)
	}
}

func TestTriggerKeyWhileAwaitingAssigns(t *testing.T) {
	h := newHarness(t)
	home := h.find(t, "#home")
	h.capture(t, home, "g")

	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#submit-btn")})
	res := h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeAssigned {
		t.Fatalf("got %+v", res)
	}
	if h.doc.Clicks(home) != 0 {
		t.Error("bound element was triggered during assignment")
	}
}

func TestCaptureIgnoresPageRootsAndOwnUI(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	for _, el := range []dom.Element{h.doc.Body(), h.doc.Root(), h.find(t, "#kb-close"), nil} {
		res := h.dispatch(t, PointerClick{Target: el})
		if res.Outcome != OutcomeIgnored || res.Suppress || res.State != StateCaptureActive {
			t.Errorf("click on %v: %+v", el, res)
		}
	}
}

func TestClicksOutsideCaptureModeAreIgnored(t *testing.T) {
	h := newHarness(t)
	if res := h.dispatch(t, PointerClick{Target: h.find(t, "#home")}); res.Outcome != OutcomeIgnored || res.Suppress {
		t.Errorf("got %+v", res)
	}
	if res := h.dispatch(t, FocusChange{Target: h.find(t, "#search")}); res.Outcome != OutcomeIgnored {
		t.Errorf("got %+v", res)
	}
}

func TestFocusStartsSession(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	res := h.dispatch(t, FocusChange{Target: h.find(t, "#search")})
	if res.Outcome != OutcomeSessionStarted {
		t.Fatalf("got %+v", res)
	}
}

func TestToggleOffEndsSession(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})
	res := h.dispatch(t, SetCapture{On: false})
	if res.State != StateIdle || h.ui.cleared == 0 {
		t.Fatalf("got %+v, cleared %d", res, h.ui.cleared)
	}
	if res := h.dispatch(t, altShift("g")); res.Outcome != OutcomeUnbound {
		t.Errorf("after toggle off: %+v", res)
	}
}

func TestTriggerHealsAndNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.capture(t, h.find(t, "#submit-btn"), "g")

	h.doc.Remove(h.find(t, "#submit-btn"))
	added, err := h.doc.AppendHTML(h.find(t, "main"), `<button class="primary">Send</button>`)
	if err != nil {
		t.Fatal(err)
	}
	res := h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeTriggered {
		t.Fatalf("healed trigger: %+v", res)
	}
	if h.doc.Clicks(added[0]) != 1 {
		t.Error("healed element not clicked")
	}
	m, _ := h.st.Site(ctx, "example.com")
	if m["g"].Locator != "button.primary" {
		t.Errorf("heal not persisted: %+v", m["g"])
	}

	h.doc.Remove(added[0])
	writes := h.kv.Writes()
	res = h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeNotFound || !res.Suppress {
		t.Fatalf("missing element: %+v", res)
	}
	if h.ui.last() != "Alt+Shift+G: Send was not found on this page." {
		t.Errorf("announcement: %q", h.ui.last())
	}
	if h.kv.Writes() != writes {
		t.Error("miss wrote storage")
	}
}

func TestNavigateTearsDownSession(t *testing.T) {
	h := newHarness(t, WithPromptDelay(50*time.Millisecond))
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})

	other, _ := htmldoc.ParseString(`<html><body><button id="x">X</button></body></html>`, "other.example")
	h.st.Assign(context.Background(), "other.example", "x", fingerprint.Fingerprint{Locator: "#x", DisplayName: "X", TextSnapshot: "X", Tag: "button"})

	res := h.dispatch(t, Navigate{Doc: other})
	if res.State != StateIdle || h.ui.cleared == 0 {
		t.Fatalf("navigate: %+v", res)
	}

	time.Sleep(100 * time.Millisecond)
	if h.ui.saw("assign a shortcut") {
		t.Error("prompt of a discarded session was announced")
	}

	if res := h.dispatch(t, altShift("x")); res.Outcome != OutcomeTriggered {
		t.Errorf("new host map not loaded: %+v", res)
	}
}

func TestPromptIsDelayed(t *testing.T) {
	h := newHarness(t, WithPromptDelay(20*time.Millisecond))
	h.dispatch(t, SetCapture{On: true})
	h.dispatch(t, PointerClick{Target: h.find(t, "#home")})
	if h.ui.saw("assign a shortcut") {
		t.Fatal("prompt announced before the delay")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.ui.saw("assign a shortcut to Home") {
		if time.Now().After(deadline) {
			t.Fatal("prompt never announced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.c.HandleMessage(ctx, bus.Message{Action: bus.ActionGetState})
	if err != nil || reply == nil || reply.Action != bus.ActionReturnState || reply.On() {
		t.Fatalf("GET_STATE: %+v, %v", reply, err)
	}
	if _, err := h.c.HandleMessage(ctx, bus.Toggle(true)); err != nil {
		t.Fatal(err)
	}
	reply, _ = h.c.HandleMessage(ctx, bus.Message{Action: bus.ActionGetState})
	if !reply.On() {
		t.Error("GET_STATE after toggle on reported off")
	}
	h.c.HandleMessage(ctx, bus.Toggle(false))

	// Written by the settings context, invisible until RELOAD_SHORTCUTS.
	h.st.Assign(ctx, "example.com", "g", fingerprint.Fingerprint{Locator: "#submit-btn", DisplayName: "Send", TextSnapshot: "Send", Tag: "button"})
	if res := h.dispatch(t, altShift("g")); res.Outcome != OutcomeUnbound {
		t.Fatalf("before reload: %+v", res)
	}
	if _, err := h.c.HandleMessage(ctx, bus.Message{Action: bus.ActionReload}); err != nil {
		t.Fatal(err)
	}
	if res := h.dispatch(t, altShift("g")); res.Outcome != OutcomeTriggered {
		t.Fatalf("after reload: %+v", res)
	}
}

func TestSettingsAbsentIsNotAnError(t *testing.T) {
	h := newHarness(t, WithSettings(&bus.Local{}))
	if res := h.capture(t, h.find(t, "#home"), "g"); res.Outcome != OutcomeAssigned || res.Err != nil {
		t.Fatalf("got %+v", res)
	}
}

func TestDispatchAfterStop(t *testing.T) {
	c := New(store.NewShortcuts(store.NewMemoryKV()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, err := c.Dispatch(context.Background(), Reload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if _, err := c.HandleMessage(context.Background(), bus.Message{Action: bus.ActionGetState}); !errors.Is(err, bus.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestTriggerWhileCaptureModeOn(t *testing.T) {
	h := newHarness(t)
	btn := h.find(t, "#submit-btn")
	if res := h.capture(t, btn, "g"); res.Outcome != OutcomeAssigned {
		t.Fatalf("assign: %+v", res)
	}
	h.dispatch(t, SetCapture{On: true})

	res := h.dispatch(t, altShift("g"))
	if res.Outcome != OutcomeTriggered || res.State != StateCaptureActive {
		t.Fatalf("trigger in capture mode: %+v", res)
	}
	if h.doc.Clicks(btn) != 1 {
		t.Errorf("clicks: got %d, want 1", h.doc.Clicks(btn))
	}

	// The focus and click raised by the activation come back as page events.
	for _, ev := range []Event{FocusChange{Target: btn}, PointerClick{Target: btn}} {
		if res := h.dispatch(t, ev); res.Outcome != OutcomeIgnored || res.State != StateCaptureActive {
			t.Errorf("%T after trigger: %+v", ev, res)
		}
	}

	if res := h.dispatch(t, PointerClick{Target: h.find(t, "#home")}); res.Outcome != OutcomeSessionStarted {
		t.Errorf("capture of another element: %+v", res)
	}
}

func TestBindingsMarkTheirElements(t *testing.T) {
	h := newHarness(t)
	btn, home := h.find(t, "#submit-btn"), h.find(t, "#home")
	marks := func(el dom.Element) string { return dom.Attr(el, resolve.KeysAttr) }

	h.capture(t, btn, "g")
	if got, want := marks(btn), "g"; got != want {
		t.Errorf("after capture: got %q, want %q", got, want)
	}

	h.capture(t, home, "g")
	if _, ok := btn.Attr(resolve.KeysAttr); ok {
		t.Errorf("old element kept the mark: %q", marks(btn))
	}
	h.capture(t, home, "h")
	if got, want := marks(home), "g h"; got != want {
		t.Errorf("shared element: got %q, want %q", got, want)
	}

	if res := h.dispatch(t, altShift("h")); res.Outcome != OutcomeTriggered {
		t.Fatalf("trigger: %+v", res)
	}
	if got, want := marks(home), "g h"; got != want {
		t.Errorf("after trigger: got %q, want %q", got, want)
	}
}
