package store

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dbopen"
	"github.com/hazyhaar/keybind/fingerprint"
)

func testSQLite(t *testing.T) *SQLiteKV {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return &SQLiteKV{DB: db}
}

func fp(locator, name string) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{Locator: locator, DisplayName: name, TextSnapshot: name, Tag: "button"}
}

func TestSQLiteKV(t *testing.T) {
	kv := testSQLite(t)
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}
	if err := kv.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get(k) = ok %v, err %v", ok, err)
	}
	if string(v) != `{"a":2}` {
		t.Errorf("value: got %s, want {\"a\":2}", v)
	}
}

func TestShortcutsAssignCreatesSiteLazily(t *testing.T) {
	s := NewShortcuts(testSQLite(t))
	ctx := context.Background()

	m, err := s.Site(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Fatalf("empty store: got %d bindings", len(m))
	}

	overwrote, err := s.Assign(ctx, "example.com", "G", fp("#submit-btn", "Submit"))
	if err != nil {
		t.Fatal(err)
	}
	if overwrote {
		t.Error("first assign reported an overwrite")
	}

	m, err = s.Site(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m["g"]
	if !ok {
		t.Fatal("key not stored lower-cased")
	}
	if got.Locator != "#submit-btn" {
		t.Errorf("Locator: got %q, want %q", got.Locator, "#submit-btn")
	}

	sites, err := s.Sites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0] != "example.com" {
		t.Errorf("Sites: got %v", sites)
	}
}

func TestShortcutsAssignOverwritesSilently(t *testing.T) {
	s := NewShortcuts(NewMemoryKV())
	ctx := context.Background()

	s.Assign(ctx, "example.com", "g", fp("#a", "A"))
	overwrote, err := s.Assign(ctx, "example.com", "g", fp("#b", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if !overwrote {
		t.Error("second assign should report overwrite")
	}
	m, _ := s.Site(ctx, "example.com")
	if len(m) != 1 || m["g"].Locator != "#b" {
		t.Errorf("got %+v", m)
	}
}

func TestShortcutsAssignRejectsInvalidKey(t *testing.T) {
	kv := NewMemoryKV()
	s := NewShortcuts(kv)
	_, err := s.Assign(context.Background(), "example.com", "F5", fp("#a", "A"))
	if !errors.Is(err, chord.ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
	if kv.Writes() != 0 {
		t.Errorf("invalid key wrote storage %d times", kv.Writes())
	}
}

func TestShortcutsSitesAreIsolated(t *testing.T) {
	s := NewShortcuts(NewMemoryKV())
	ctx := context.Background()

	s.Assign(ctx, "a.example", "g", fp("#a", "A"))
	s.Assign(ctx, "b.example", "g", fp("#b", "B"))

	a, _ := s.Site(ctx, "a.example")
	b, _ := s.Site(ctx, "b.example")
	if a["g"].Locator != "#a" || b["g"].Locator != "#b" {
		t.Errorf("sites leaked into each other: a=%+v b=%+v", a, b)
	}
}

func TestShortcutsDeleteAndReset(t *testing.T) {
	s := NewShortcuts(NewMemoryKV())
	ctx := context.Background()

	s.Assign(ctx, "example.com", "g", fp("#a", "A"))
	s.Assign(ctx, "example.com", "h", fp("#b", "B"))

	if err := s.Delete(ctx, "example.com", "G"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "example.com", "g"); !errors.Is(err, ErrNoBinding) {
		t.Errorf("second delete: err = %v, want ErrNoBinding", err)
	}
	m, _ := s.Site(ctx, "example.com")
	if len(m) != 1 {
		t.Fatalf("after delete: got %d bindings, want 1", len(m))
	}

	if err := s.ResetSite(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	m, _ = s.Site(ctx, "example.com")
	if len(m) != 0 {
		t.Errorf("after reset: got %d bindings, want 0", len(m))
	}
	sites, _ := s.Sites(ctx)
	if len(sites) != 0 {
		t.Errorf("reset site still listed: %v", sites)
	}
}

func TestShortcutsHealByKey(t *testing.T) {
	s := NewShortcuts(NewMemoryKV())
	ctx := context.Background()

	s.Assign(ctx, "example.com", "g", fp("#old-g", "Next"))
	s.Assign(ctx, "example.com", "h", fp("#old-h", "Next"))

	if err := s.Heal(ctx, "example.com", "g", "#new-g"); err != nil {
		t.Fatal(err)
	}
	m, _ := s.Site(ctx, "example.com")
	if m["g"].Locator != "#new-g" {
		t.Errorf("g: got %q, want #new-g", m["g"].Locator)
	}
	if m["h"].Locator != "#old-h" {
		t.Errorf("h was repointed to %q", m["h"].Locator)
	}
	if m["g"].TextSnapshot != "Next" {
		t.Errorf("heal dropped the text snapshot")
	}

	if err := s.Heal(ctx, "example.com", "z", "#x"); !errors.Is(err, ErrNoBinding) {
		t.Errorf("heal unknown key: err = %v, want ErrNoBinding", err)
	}
}

func TestShortcutsReplaceSite(t *testing.T) {
	kv := NewMemoryKV()
	s := NewShortcuts(kv)
	ctx := context.Background()

	s.Assign(ctx, "example.com", "g", fp("#a", "A"))
	if err := s.ReplaceSite(ctx, "example.com", SiteMap{"x": fp("#x", "X")}); err != nil {
		t.Fatal(err)
	}
	m, _ := s.Site(ctx, "example.com")
	if len(m) != 1 || m["x"].Locator != "#x" {
		t.Errorf("got %+v", m)
	}
	if got := m.Keys(); len(got) != 1 || got[0] != "x" {
		t.Errorf("Keys: got %v", got)
	}
}
