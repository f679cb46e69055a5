package capture

import "fmt"

// Announcements. Every user-visible string of the page context is here.
const (
	msgCaptureOn    = "Capture mode on. Click an element to give it a shortcut."
	msgCaptureOff   = "Capture mode off."
	msgCancelled    = "Assignment cancelled."
	msgNoTarget     = "Focus or point at an element first."
	msgCaptureGone  = "That element is no longer on the page. Assignment cancelled."
	msgSaveFailed   = "Could not save the shortcut."
	msgCaptureError = "Could not capture that element."
)

func msgPrompt(chordLabel, name string) string {
	return fmt.Sprintf("Press %s plus a letter or number to assign a shortcut to %s. Escape cancels.", chordLabel, name)
}

func msgInvalidKey(chordLabel string) string {
	return fmt.Sprintf("Invalid key. Use %s plus a single letter or number. Assignment cancelled.", chordLabel)
}

func msgAssigned(chordLabel, name string, overwrote bool) string {
	if overwrote {
		return fmt.Sprintf("%s now activates %s, replacing its previous element.", chordLabel, name)
	}
	return fmt.Sprintf("%s now activates %s.", chordLabel, name)
}

func msgActivated(name string) string {
	return fmt.Sprintf("Activated %s.", name)
}

func msgNotFound(chordLabel, name string) string {
	return fmt.Sprintf("%s: %s was not found on this page.", chordLabel, name)
}
