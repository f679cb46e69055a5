package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestUUIDv7_Version(t *testing.T) {
	u, err := uuid.Parse(UUIDv7()())
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: got %d, want 7", u.Version())
	}
}

func TestSession(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := Session()
		if !strings.HasPrefix(id, "cap_") || len(id) != len("cap_")+12 {
			t.Fatalf("session id %q: want cap_ + 12 chars", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q at %d", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("x_", func() string { return "1" })
	if got := gen(); got != "x_1" {
		t.Fatalf("got %q", got)
	}
}
