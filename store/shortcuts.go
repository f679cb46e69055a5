package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/fingerprint"
)

// RecordKey is the storage key holding every site's shortcut map.
const RecordKey = "accessibleShortcutsMap"

// ErrNoBinding is returned when a key has no binding on the site.
var ErrNoBinding = errors.New("store: no binding for key")

// SiteMap is one site's bindings, keyed by lower-cased key.
type SiteMap map[string]fingerprint.Fingerprint

// Keys returns the bound keys in sorted order.
func (m SiteMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is the whole persisted value: host → site map.
type Record map[string]SiteMap

// Shortcuts is the repository over a KV.
type Shortcuts struct {
	kv KV
}

// NewShortcuts creates a repository over kv.
func NewShortcuts(kv KV) *Shortcuts {
	return &Shortcuts{kv: kv}
}

// Load returns the whole record; an absent record is empty.
func (s *Shortcuts) Load(ctx context.Context) (Record, error) {
	raw, ok, err := s.kv.Get(ctx, RecordKey)
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	rec := Record{}
	if !ok || len(raw) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return rec, nil
}

func (s *Shortcuts) save(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	if err := s.kv.Set(ctx, RecordKey, raw); err != nil {
		return fmt.Errorf("store: set: %w", err)
	}
	return nil
}

// Sites returns the hosts that have at least one binding, sorted.
func (s *Shortcuts) Sites(ctx context.Context) ([]string, error) {
	rec, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for h, m := range rec {
		if len(m) > 0 {
			hosts = append(hosts, h)
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Site returns the bindings of host; never nil.
func (s *Shortcuts) Site(ctx context.Context, host string) (SiteMap, error) {
	rec, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	m := rec[host]
	if m == nil {
		m = SiteMap{}
	}
	return m, nil
}

// Assign binds key on host to fp, creating the site map on first use. An
// existing binding for the key is overwritten; overwrote reports it.
func (s *Shortcuts) Assign(ctx context.Context, host, key string, fp fingerprint.Fingerprint) (overwrote bool, err error) {
	key, err = chord.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	err = s.update(ctx, func(rec Record) error {
		m := rec[host]
		if m == nil {
			m = SiteMap{}
			rec[host] = m
		}
		_, overwrote = m[key]
		m[key] = fp
		return nil
	})
	return overwrote, err
}

// Delete removes one binding.
func (s *Shortcuts) Delete(ctx context.Context, host, key string) error {
	key = strings.ToLower(key)
	return s.update(ctx, func(rec Record) error {
		if _, ok := rec[host][key]; !ok {
			return ErrNoBinding
		}
		delete(rec[host], key)
		return nil
	})
}

// ResetSite replaces host's bindings with an empty map.
func (s *Shortcuts) ResetSite(ctx context.Context, host string) error {
	return s.update(ctx, func(rec Record) error {
		rec[host] = SiteMap{}
		return nil
	})
}

// ReplaceSite writes m as host's complete binding set.
func (s *Shortcuts) ReplaceSite(ctx context.Context, host string, m SiteMap) error {
	return s.update(ctx, func(rec Record) error {
		rec[host] = m
		return nil
	})
}

// Heal implements resolve.Healer: it rewrites the locator of the binding
// stored under key, leaving the other signals as captured.
func (s *Shortcuts) Heal(ctx context.Context, host, key, locator string) error {
	key = strings.ToLower(key)
	return s.update(ctx, func(rec Record) error {
		fp, ok := rec[host][key]
		if !ok {
			return ErrNoBinding
		}
		fp.Locator = locator
		rec[host][key] = fp
		return nil
	})
}

func (s *Shortcuts) update(ctx context.Context, fn func(Record) error) error {
	rec, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.save(ctx, rec)
}
