package dom

// Sizer is implemented by elements that can report their rendered offset
// size directly (offsetWidth/offsetHeight in a browser).
type Sizer interface {
	OffsetSize() (width, height float64)
}

// IsVisible reports whether el is actually laid out rather than merely
// present in markup: non-zero rendered width or height, or at least one client
// rectangle. Elements under display:none and detached nodes have neither.
func IsVisible(el Element) bool {
	if el == nil {
		return false
	}
	if s, ok := el.(Sizer); ok {
		if w, h := s.OffsetSize(); w > 0 || h > 0 {
			return true
		}
	}
	return len(el.ClientRects()) > 0
}
