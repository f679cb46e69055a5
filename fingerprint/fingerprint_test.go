package fingerprint

import (
	"context"
	"testing"

	"github.com/hazyhaar/keybind/dom/htmldoc"
)

func parse(t *testing.T, body string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString("<html><body>"+body+"</body></html>", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestBuild(t *testing.T) {
	doc := parse(t, `<form><button id="submit-btn" aria-label="Submit form">  Send
		 now </button></form>`)
	var b Builder
	fp, err := b.Build(context.Background(), doc, doc.Find("#submit-btn"))
	if err != nil {
		t.Fatal(err)
	}
	want := Fingerprint{
		Locator:      "#submit-btn",
		DisplayName:  "Send now",
		TextSnapshot: "Send now",
		AriaSnapshot: "Submit form",
		Tag:          "button",
	}
	if fp != want {
		t.Errorf("got %+v\nwant %+v", fp, want)
	}
	if !fp.Healable() {
		t.Error("fingerprint with text should be healable")
	}
}

func TestBuildNil(t *testing.T) {
	var b Builder
	if _, err := b.Build(context.Background(), parse(t, ""), nil); err == nil {
		t.Error("expected error for nil element")
	}
}

func TestDisplayNamePrecedence(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"text wins", `<a id="t" aria-label="Label" title="Title">Text</a>`, "Text"},
		{"aria when no text", `<a id="t" aria-label="Label" title="Title"></a>`, "Label"},
		{"title when no aria", `<a id="t" title="Title"></a>`, "Title"},
		{"placeholder for inputs", `<input id="t" placeholder="Search">`, "Search"},
		{"placeholder ignored elsewhere", `<div id="t" placeholder="Search"></div>`, FallbackElement},
		{"button fallback", `<button id="t"></button>`, FallbackButton},
		{"role button fallback", `<div id="t" role="button"></div>`, FallbackButton},
		{"submit input fallback", `<input id="t" type="submit">`, FallbackButton},
		{"generic fallback", `<span id="t"></span>`, FallbackElement},
		{"truncated", `<p id="t">Subscribe to the weekly newsletter</p>`, "Subscribe to the wee"},
		{"trailing space dropped", `<p id="t">Read the full story now</p>`, "Read the full story"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, tt.body)
			var b Builder
			fp, err := b.Build(context.Background(), doc, doc.Find("#t"))
			if err != nil {
				t.Fatal(err)
			}
			if fp.DisplayName != tt.want {
				t.Errorf("DisplayName = %q, want %q", fp.DisplayName, tt.want)
			}
			if n := len([]rune(fp.DisplayName)); n > MaxDisplayName {
				t.Errorf("DisplayName has %d characters", n)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	doc := parse(t, `<input id="i"><textarea id="ta"></textarea><select id="s"></select><a id="a"></a>`)
	for loc, want := range map[string]Kind{"#i": KindInput, "#ta": KindInput, "#s": KindInput, "#a": KindGeneric} {
		if got := KindOf(doc.Find(loc)); got != want {
			t.Errorf("KindOf(%s) = %v, want %v", loc, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	// e + combining acute composes to U+00E9.
	if got := Normalize("  Cafe\u0301 \n\t menu "); got != "Caf\u00e9 menu" {
		t.Errorf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("ééééé", 3); got != "ééé" {
		t.Errorf("rune truncation: got %q", got)
	}
	if got := Truncate("short", 20); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestNotHealableWithoutSignals(t *testing.T) {
	if (Fingerprint{Locator: "#x"}).Healable() {
		t.Error("locator-only fingerprint reported healable")
	}
}
