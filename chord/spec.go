package chord

import (
	"fmt"
	"strings"
)

// Spec is a chord: an exact modifier set plus either a fixed key or, when Key
// is empty, any alphanumeric payload.
type Spec struct {
	Mods Modifiers
	Key  string
}

// Parse reads a chord written as '+'-separated names, e.g. "alt+shift",
// "ctrl+shift+k" or "escape". The last non-modifier name is the key.
func Parse(s string) (Spec, error) {
	var spec Spec
	s = strings.TrimSpace(s)
	if s == "" {
		return spec, fmt.Errorf("chord: empty chord")
	}
	for _, p := range strings.Split(s, "+") {
		p = strings.TrimSpace(strings.ToLower(p))
		switch p {
		case "alt", "option":
			spec.Mods |= ModAlt
		case "ctrl", "control":
			spec.Mods |= ModCtrl
		case "shift":
			spec.Mods |= ModShift
		case "meta", "cmd", "super", "win":
			spec.Mods |= ModMeta
		case "":
			return Spec{}, fmt.Errorf("chord: empty part in %q", s)
		default:
			if spec.Key != "" {
				return Spec{}, fmt.Errorf("chord: more than one key in %q", s)
			}
			spec.Key = keyName(p)
		}
	}
	return spec, nil
}

// MustParse is Parse for package-level defaults.
func MustParse(s string) Spec {
	spec, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// keyName maps lower-case config names to KeyboardEvent.key values.
func keyName(p string) string {
	switch p {
	case "esc", "escape":
		return "Escape"
	case "enter", "return":
		return "Enter"
	case "space":
		return " "
	case "tab":
		return "Tab"
	case "slash":
		return "/"
	}
	return p
}

// HasPayload reports whether the chord takes a trailing alphanumeric key.
func (s Spec) HasPayload() bool { return s.Key == "" }

// Match reports whether e is this chord. For payload chords the lower-cased
// payload key is returned.
func (s Spec) Match(e KeyEvent) (string, bool) {
	if e.IsModifierKey() || e.Modifiers() != s.Mods {
		return "", false
	}
	if s.Key == "" {
		return e.Payload()
	}
	if IsValidKey(s.Key) {
		p, ok := e.Payload()
		return p, ok && p == strings.ToLower(s.Key)
	}
	return s.Key, strings.EqualFold(e.Key, s.Key)
}

// ModifiersHeld reports whether e holds exactly the chord's modifiers,
// whatever the key.
func (s Spec) ModifiersHeld(e KeyEvent) bool {
	return e.Modifiers() == s.Mods
}

// Label renders the chord for humans, e.g. "Alt+Shift+G". payload fills in
// the key of payload chords.
func (s Spec) Label(payload string) string {
	key := s.Key
	if key == "" {
		key = payload
	}
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	mods := s.Mods.String()
	switch {
	case mods == "":
		return key
	case key == "":
		return mods
	}
	return mods + "+" + key
}

func (s Spec) String() string { return s.Label("") }
