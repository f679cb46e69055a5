package capture

import (
	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dom"
)

// State is the controller's mode.
type State int32

const (
	StateIdle State = iota
	StateCaptureActive
	StateAwaitingKey
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCaptureActive:
		return "capture_active"
	case StateAwaitingKey:
		return "awaiting_key"
	}
	return "unknown"
}

// Mode records how a capture session was started.
type Mode string

const (
	ModeClick Mode = "click"
	ModeFocus Mode = "focus"
	ModeQuick Mode = "quick"
)

// Event is anything the controller reacts to.
type Event interface{ event() }

// PointerClick is a primary-button click on Target.
type PointerClick struct{ Target dom.Element }

// FocusChange is Target receiving focus.
type FocusChange struct{ Target dom.Element }

// PointerHover is the pointer entering Target.
type PointerHover struct{ Target dom.Element }

// KeyDown is one keydown.
type KeyDown struct{ Key chord.KeyEvent }

// SetCapture turns capture mode on or off.
type SetCapture struct{ On bool }

// Reload re-reads the site map from the store.
type Reload struct{}

// Navigate replaces the document: a new page load or a host change.
type Navigate struct{ Doc dom.Document }

// Message is a bus message addressed to the page context.
type Message struct{ Msg bus.Message }

type promptDue struct{ session string }

func (PointerClick) event() {}
func (FocusChange) event()  {}
func (PointerHover) event() {}
func (KeyDown) event()      {}
func (SetCapture) event()   {}
func (Reload) event()       {}
func (Navigate) event()     {}
func (Message) event()      {}
func (promptDue) event()    {}

// Outcome names what an event did.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeHovered        Outcome = "hovered"
	OutcomeCaptureOn      Outcome = "capture_on"
	OutcomeCaptureOff     Outcome = "capture_off"
	OutcomeSessionStarted Outcome = "session_started"
	OutcomePrompted       Outcome = "prompted"
	OutcomeAssigned       Outcome = "assigned"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeInvalidKey     Outcome = "invalid_key"
	OutcomeNoTarget       Outcome = "no_target"
	OutcomeTriggered      Outcome = "triggered"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeUnbound        Outcome = "unbound"
	OutcomeHelpShown      Outcome = "help_shown"
	OutcomeHelpHidden     Outcome = "help_hidden"
	OutcomeReloaded       Outcome = "reloaded"
	OutcomeNavigated      Outcome = "navigated"
	OutcomeReplied        Outcome = "replied"
	OutcomeFailed         Outcome = "failed"
)

// Result reports how an event was handled.
type Result struct {
	Outcome Outcome
	// State is the controller state after the event.
	State State
	// Suppress asks the page to cancel the event's default action and stop
	// its propagation.
	Suppress bool
	// Key is the binding key involved, if any.
	Key string
	// Overwrote is set when an assignment replaced an existing binding.
	Overwrote bool
	// Reply is the answer to a bus message, if any.
	Reply *bus.Message
	// Err is an internal failure that was degraded to a notice.
	Err error
}
