// Package chord models keyboard input: key events as reported by the page,
// chord specifications parsed from configuration strings, and validation of
// the single alphanumeric payload key a binding is stored under.
package chord

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for anything but one ASCII letter or digit.
var ErrInvalidKey = errors.New("chord: key must be a single letter or number")

// Modifiers is a bitmask of held modifier keys.
type Modifiers uint8

const (
	ModAlt Modifiers = 1 << iota
	ModCtrl
	ModShift
	ModMeta
)

func (m Modifiers) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "Ctrl")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "Alt")
	}
	if m&ModShift != 0 {
		parts = append(parts, "Shift")
	}
	if m&ModMeta != 0 {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}

// KeyEvent is one keydown as reported by the page (KeyboardEvent fields).
type KeyEvent struct {
	Key   string `json:"key"`
	Code  string `json:"code"`
	Alt   bool   `json:"alt"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Meta  bool   `json:"meta"`
}

// Modifiers returns the held modifiers.
func (e KeyEvent) Modifiers() Modifiers {
	var m Modifiers
	if e.Alt {
		m |= ModAlt
	}
	if e.Ctrl {
		m |= ModCtrl
	}
	if e.Shift {
		m |= ModShift
	}
	if e.Meta {
		m |= ModMeta
	}
	return m
}

// IsModifierKey reports whether the key itself is a modifier. Such events
// are never a chord payload.
func (e KeyEvent) IsModifierKey() bool {
	switch e.Key {
	case "Alt", "AltGraph", "Control", "Shift", "Meta", "OS", "Super", "Hyper",
		"CapsLock", "Fn", "FnLock", "NumLock", "ScrollLock", "Symbol", "SymbolLock":
		return true
	}
	return false
}

// Payload returns the lower-cased alphanumeric key of the event. The Key
// value is used when it is one letter or digit; otherwise the physical Code
// (KeyG, Digit5) is consulted, because Shift and Alt rewrite Key on most
// layouts ("!" for Shift+1, "©" for Alt+G on macOS).
func (e KeyEvent) Payload() (string, bool) {
	if e.IsModifierKey() {
		return "", false
	}
	if IsValidKey(e.Key) {
		return strings.ToLower(e.Key), true
	}
	if len([]rune(e.Key)) > 1 {
		// Named keys: F5, Enter, ArrowUp...
		return "", false
	}
	switch {
	case len(e.Code) == 4 && strings.HasPrefix(e.Code, "Key"):
		k := strings.ToLower(e.Code[3:])
		if IsValidKey(k) {
			return k, true
		}
	case len(e.Code) == 6 && strings.HasPrefix(e.Code, "Digit"):
		if IsValidKey(e.Code[5:]) {
			return e.Code[5:], true
		}
	}
	return "", false
}

// IsValidKey reports whether s is exactly one ASCII letter or digit.
func IsValidKey(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// NormalizeKey validates s and returns it lower-cased.
func NormalizeKey(s string) (string, error) {
	if !IsValidKey(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return strings.ToLower(s), nil
}
