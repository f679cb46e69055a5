package keybind

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DBPath != "keybind.db" || cfg.StartURL != "https://example.com" {
		t.Errorf("paths: %+v", cfg)
	}
	if cfg.PromptDelay != 150*time.Millisecond {
		t.Errorf("prompt delay: got %v, want 150ms", cfg.PromptDelay)
	}
	if cfg.Browser.Stealth != "headful" || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if cfg.Settings.Addr != "127.0.0.1:8087" || cfg.Bus.Addr != "127.0.0.1:8088" {
		t.Errorf("addrs: %q %q", cfg.Settings.Addr, cfg.Bus.Addr)
	}
	if cfg.Watch.Interval != 500*time.Millisecond || cfg.Watch.Debounce != 200*time.Millisecond {
		t.Errorf("watch: %+v", cfg.Watch)
	}

	ch, err := cfg.KeyChords()
	if err != nil {
		t.Fatal(err)
	}
	if ch.Trigger.Mods != chord.ModAlt|chord.ModShift || ch.Trigger.Key != "" {
		t.Errorf("trigger: %+v", ch.Trigger)
	}
	if ch.Cancel.Key != "Escape" {
		t.Errorf("cancel: %+v", ch.Cancel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybind.yaml")
	data := `
db_path: /tmp/kb.db
prompt_delay: -1ms
browser:
  remote: ws://127.0.0.1:9222
chords:
  trigger: ctrl+alt
  quick_capture: ctrl+shift+q
watch:
  interval: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/kb.db" {
		t.Errorf("db_path: got %q", cfg.DBPath)
	}
	if cfg.EffectivePromptDelay() != 0 {
		t.Errorf("negative prompt delay should be immediate, got %v", cfg.EffectivePromptDelay())
	}
	if cfg.Browser.XvfbDisplay != "" {
		t.Errorf("remote browser should not get an Xvfb display, got %q", cfg.Browser.XvfbDisplay)
	}
	if cfg.Watch.Interval != 2*time.Second || cfg.Watch.Debounce != 200*time.Millisecond {
		t.Errorf("watch: %+v", cfg.Watch)
	}
	ch, err := cfg.KeyChords()
	if err != nil {
		t.Fatal(err)
	}
	if ch.QuickCapture.Key != "q" || ch.Help.Key != "h" {
		t.Errorf("chords: %+v", ch)
	}
}

func TestParseConfigRejectsBadChords(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"trigger with key", "chords: {trigger: alt+shift+k}", "modifiers only"},
		{"two keys", "chords: {help: ctrl+h+j}", "chords.help"},
		{"empty part", "chords: {cancel: ctrl++}", "chords.cancel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBusRouter(t *testing.T) {
	rec := &bus.Recorder{}
	h := busRouter(rec, nil)

	req := httptest.NewRequest(http.MethodPost, bus.Path, strings.NewReader(`{"action":"RELOAD_SHORTCUTS"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", w.Code)
	}
	if _, ok := rec.Last(bus.ActionReload); !ok {
		t.Error("message not delivered")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("shield stack not applied")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
}

func TestOpenStoreTraced(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { trace.SetLogger(nil) })

	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "kb.db")
	cfg.DBTrace = true
	kv, err := cfg.OpenStore(logger)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	if err := kv.Set(context.Background(), "example.com", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "trace: sql") {
		t.Errorf("statements not traced:\n%s", buf.String())
	}
}
