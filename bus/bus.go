// Package bus carries the small JSON messages exchanged between the page
// agent and the settings service.
//
// Delivery is best-effort: when the other side is not running, Send returns
// ErrUnavailable and Notify drops the message after a debug log. Nothing in
// either context depends on a message arriving, except GET_STATE, whose
// caller falls back to "capture off".
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Action names a message.
type Action string

const (
	// ActionReload asks the page agent to re-read its site map.
	ActionReload Action = "RELOAD_SHORTCUTS"
	// ActionToggleCapture turns capture mode on or off (State).
	ActionToggleCapture Action = "TOGGLE_CAPTURE"
	// ActionGetState asks the page agent whether capture mode is on.
	ActionGetState Action = "GET_STATE"
	// ActionReturnState is the reply to ActionGetState.
	ActionReturnState Action = "RETURN_STATE"
	// ActionNewAssignment tells the settings side a binding was captured.
	ActionNewAssignment Action = "NEW_ASSIGNMENT_READY"
	// ActionSetStatus pushes a status line to the settings side.
	ActionSetStatus Action = "SET_POPUP_STATUS"
)

// ErrUnavailable means no receiver is listening.
var ErrUnavailable = errors.New("bus: receiver unavailable")

// Message is the wire shape of every action. Fields not used by an action
// are omitted.
type Message struct {
	Action   Action `json:"action"`
	State    *bool  `json:"state,omitempty"`
	Host     string `json:"host,omitempty"`
	Key      string `json:"key,omitempty"`
	Selector string `json:"selector,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Toggle builds a TOGGLE_CAPTURE message.
func Toggle(on bool) Message {
	return Message{Action: ActionToggleCapture, State: &on}
}

// ReturnState builds the GET_STATE reply.
func ReturnState(on bool) Message {
	return Message{Action: ActionReturnState, State: &on}
}

// On reports the State flag; absent means false.
func (m Message) On() bool {
	return m.State != nil && *m.State
}

// Handler receives messages. A nil reply with a nil error means the message
// needs no answer.
type Handler interface {
	HandleMessage(ctx context.Context, m Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message) (*Message, error)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, m Message) (*Message, error) {
	return f(ctx, m)
}

// Sender delivers a message to the other context.
type Sender interface {
	Send(ctx context.Context, m Message) (*Message, error)
}

// Notify sends m and discards the reply. ErrUnavailable is expected when the
// other side is closed and is only logged at debug level; other failures are
// logged as warnings. Notify never returns an error.
func Notify(ctx context.Context, s Sender, m Message, logger *slog.Logger) {
	if s == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	_, err := s.Send(ctx, m)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnavailable):
		logger.Debug("bus: no receiver", "action", string(m.Action))
	default:
		logger.Warn("bus: send failed", "action", string(m.Action), "error", err)
	}
}

// Local delivers messages in-process to whatever Handler is attached.
// Sending with nothing attached returns ErrUnavailable.
type Local struct {
	mu sync.RWMutex
	h  Handler
}

// Attach sets the receiver; nil detaches it.
func (l *Local) Attach(h Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

// Send implements Sender.
func (l *Local) Send(ctx context.Context, m Message) (*Message, error) {
	l.mu.RLock()
	h := l.h
	l.mu.RUnlock()
	if h == nil {
		return nil, ErrUnavailable
	}
	return h.HandleMessage(ctx, m)
}

// Recorder is a Handler that keeps every message it receives.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// HandleMessage implements Handler.
func (r *Recorder) HandleMessage(_ context.Context, m Message) (*Message, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil, nil
}

// Messages returns a copy of what was received so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Last returns the most recent message with action a.
func (r *Recorder) Last(a Action) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Action == a {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}
