package help

import (
	"strings"
	"testing"

	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/store"
)

var trigger = chord.MustParse("alt+shift")

func sample() store.SiteMap {
	return store.SiteMap{
		"s": {Locator: "#search", DisplayName: "Search"},
		"g": {Locator: "#submit-btn", DisplayName: "Submit"},
	}
}

func TestEntries(t *testing.T) {
	got := Entries(sample(), trigger)
	if len(got) != 2 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].Key != "g" || got[0].Chord != "Alt+Shift+G" || got[0].Name != "Submit" {
		t.Errorf("first entry: %+v", got[0])
	}
	if got[1].Key != "s" {
		t.Errorf("entries not sorted: %+v", got)
	}
}

func TestEmptyListing(t *testing.T) {
	entries := Entries(store.SiteMap{}, trigger)
	if len(entries) != 0 {
		t.Fatalf("got %d entries", len(entries))
	}
	if !strings.Contains(Text("example.com", entries), EmptyMessage) {
		t.Error("text listing lacks the empty-state message")
	}
	if !strings.Contains(HTML("example.com", entries), "No shortcuts for this site yet.") {
		t.Error("overlay lacks the empty-state message")
	}
	md, err := Markdown("example.com", entries)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "No shortcuts for this site yet.") {
		t.Errorf("markdown: %q", md)
	}
}

func TestText(t *testing.T) {
	out := Text("example.com", Entries(sample(), trigger))
	for _, want := range []string{"example.com", "CHORD", "Alt+Shift+G", "Submit", "#search"} {
		if !strings.Contains(out, want) {
			t.Errorf("text listing lacks %q:\n%s", want, out)
		}
	}
}

func TestHTMLSanitisesPageText(t *testing.T) {
	m := store.SiteMap{
		"x": fingerprint.Fingerprint{Locator: "#x", DisplayName: `<img src=x onerror=alert(1)>`},
	}
	out := HTML("example.com", Entries(m, trigger))
	if strings.Contains(out, "<img") {
		t.Errorf("unsafe markup survived: %s", out)
	}
	if !strings.Contains(out, `class="kb-help"`) || !strings.Contains(out, "<kbd>Alt+Shift+X</kbd>") {
		t.Errorf("overlay structure lost: %s", out)
	}
}

func TestMarkdown(t *testing.T) {
	out, err := Markdown("example.com", Entries(sample(), trigger))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Shortcuts for example.com", "Submit", "Search", "|"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown lacks %q:\n%s", want, out)
		}
	}
}
