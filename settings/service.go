// Package settings is the settings context: the surface a user edits their
// bindings from, away from the page. It lists, saves, deletes and resets a
// site's shortcuts, toggles capture mode on the page agent and shows the
// status lines the agent pushes back.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/keybind/audit"
	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/help"
	"github.com/hazyhaar/keybind/store"
)

// Status lines, shown the way the settings surface reports its own actions.
const (
	StatusReset      = "All shortcuts deleted."
	StatusCaptureOn  = "Capture mode ON. Click an element on the page, then press a key."
	StatusCaptureOff = "Capture mode OFF."
	StatusNoPage     = "No page is open. Capture mode could not be changed."
)

func statusSaved(n int) string {
	return fmt.Sprintf("Successfully saved %d shortcuts.", n)
}

func statusIgnored(n int) string {
	return fmt.Sprintf("Warning: %d row(s) ignored due to missing selector or invalid key (must be single letter/number).", n)
}

func statusAssigned(key, locator string) string {
	return fmt.Sprintf("Key %q assigned to %s.", key, locator)
}

// Row is one editable line of the settings table.
type Row struct {
	Key     string `json:"key"`
	Locator string `json:"locator"`
}

// assignParams is the audited form of a capture-side assignment; host sits
// where the history filter looks for it.
type assignParams struct {
	Host string `json:"host"`
	Row
}

// SaveResult reports how a SaveRows call was applied.
type SaveResult struct {
	Saved   int    `json:"saved"`
	Ignored int    `json:"ignored"`
	Status  string `json:"status"`
}

// Service implements the settings operations over a shortcut repository.
// It is also the bus.Handler for messages the page agent sends to settings.
type Service struct {
	shortcuts *store.Shortcuts
	page      bus.Sender
	trigger   chord.Spec
	logger    *slog.Logger
	audit     *audit.SQLiteLogger

	mu         sync.Mutex
	status     string
	lastAssign *Row
}

// Option configures a Service.
type Option func(*Service)

// WithPage sets the sender used to reach the page agent.
func WithPage(s bus.Sender) Option { return func(sv *Service) { sv.page = s } }

// WithTrigger sets the chord used to label keys in listings.
func WithTrigger(s chord.Spec) Option { return func(sv *Service) { sv.trigger = s } }

// WithAudit records edits made through the endpoints and assignments the
// page reports.
func WithAudit(l *audit.SQLiteLogger) Option { return func(sv *Service) { sv.audit = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(sv *Service) { sv.logger = l } }

// New creates a Service over shortcuts.
func New(shortcuts *store.Shortcuts, opts ...Option) *Service {
	s := &Service{
		shortcuts: shortcuts,
		trigger:   chord.MustParse("alt+shift"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Sites lists the hosts with at least one binding.
func (s *Service) Sites(ctx context.Context) ([]string, error) {
	return s.shortcuts.Sites(ctx)
}

// List returns host's bindings as listing entries.
func (s *Service) List(ctx context.Context, host string) ([]help.Entry, error) {
	m, err := s.shortcuts.Site(ctx, host)
	if err != nil {
		return nil, err
	}
	return help.Entries(m, s.trigger), nil
}

// Help renders host's listing as Markdown.
func (s *Service) Help(ctx context.Context, host string) (string, error) {
	entries, err := s.List(ctx, host)
	if err != nil {
		return "", err
	}
	return help.Markdown(host, entries)
}

// SaveRows replaces host's bindings with the valid rows. A row is valid when
// it has a locator and a single alphanumeric key; keys are lower-cased. A row
// with only one of the two, or with an invalid key, is ignored and counted.
// Blank rows are skipped silently. A row whose locator is unchanged keeps the
// fingerprint captured for it; any other row gets a locator-only fingerprint,
// which the resolver can not heal.
func (s *Service) SaveRows(ctx context.Context, host string, rows []Row) (SaveResult, error) {
	if host == "" {
		return SaveResult{}, errors.New("settings: save: empty host")
	}
	prev, err := s.shortcuts.Site(ctx, host)
	if err != nil {
		return SaveResult{}, fmt.Errorf("settings: save: %w", err)
	}

	next := store.SiteMap{}
	var res SaveResult
	for _, r := range rows {
		loc := strings.TrimSpace(r.Locator)
		key := strings.ToLower(strings.TrimSpace(r.Key))
		if loc == "" && key == "" {
			continue
		}
		if loc == "" || !chord.IsValidKey(key) {
			res.Ignored++
			continue
		}
		fp := fingerprint.Fingerprint{Locator: loc, DisplayName: fingerprint.FallbackElement}
		if old, ok := prev[key]; ok && old.Locator == loc {
			fp = old
		} else {
			for _, old := range prev {
				if old.Locator == loc {
					fp = old
					break
				}
			}
		}
		next[key] = fp
	}
	res.Saved = len(next)

	if err := s.shortcuts.ReplaceSite(ctx, host, next); err != nil {
		return SaveResult{}, fmt.Errorf("settings: save: %w", err)
	}
	res.Status = statusSaved(res.Saved)
	if res.Ignored > 0 {
		res.Status = statusIgnored(res.Ignored) + " " + res.Status
	}
	s.setStatus(res.Status)
	s.logger.Info("settings: saved", "host", host, "saved", res.Saved, "ignored", res.Ignored)
	s.reloadPage(ctx)
	return res, nil
}

// Delete removes one binding of host.
func (s *Service) Delete(ctx context.Context, host, key string) error {
	if err := s.shortcuts.Delete(ctx, host, key); err != nil {
		return fmt.Errorf("settings: delete: %w", err)
	}
	s.setStatus(fmt.Sprintf("Shortcut %q deleted.", strings.ToLower(key)))
	s.logger.Info("settings: deleted", "host", host, "key", key)
	s.reloadPage(ctx)
	return nil
}

// Reset deletes every binding of host.
func (s *Service) Reset(ctx context.Context, host string) error {
	if err := s.shortcuts.ResetSite(ctx, host); err != nil {
		return fmt.Errorf("settings: reset: %w", err)
	}
	s.setStatus(StatusReset)
	s.logger.Info("settings: reset", "host", host)
	s.reloadPage(ctx)
	return nil
}

// ToggleCapture asks the page agent to turn capture mode on or off. It
// reports whether a page received the request; no page is not an error.
func (s *Service) ToggleCapture(ctx context.Context, on bool) (bool, error) {
	if s.page == nil {
		s.setStatus(StatusNoPage)
		return false, nil
	}
	_, err := s.page.Send(ctx, bus.Toggle(on))
	switch {
	case errors.Is(err, bus.ErrUnavailable):
		s.setStatus(StatusNoPage)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("settings: toggle capture: %w", err)
	}
	if on {
		s.setStatus(StatusCaptureOn)
	} else {
		s.setStatus(StatusCaptureOff)
	}
	return true, nil
}

// CaptureState asks the page agent whether capture mode is on. An absent
// page, or any failure to reach it, reads as off.
func (s *Service) CaptureState(ctx context.Context) bool {
	if s.page == nil {
		return false
	}
	reply, err := s.page.Send(ctx, bus.Message{Action: bus.ActionGetState})
	if err != nil {
		if !errors.Is(err, bus.ErrUnavailable) {
			s.logger.Warn("settings: get state failed", "error", err)
		}
		return false
	}
	return reply != nil && reply.Action == bus.ActionReturnState && reply.On()
}

// Status returns the most recent status line.
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastAssignment returns the last binding the page agent reported.
func (s *Service) LastAssignment() (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAssign == nil {
		return Row{}, false
	}
	return *s.lastAssign, true
}

// HandleMessage implements bus.Handler for page-to-settings messages. The
// page has already persisted a reported assignment; it is only recorded.
func (s *Service) HandleMessage(_ context.Context, m bus.Message) (*bus.Message, error) {
	switch m.Action {
	case bus.ActionSetStatus:
		s.setStatus(m.Message)
	case bus.ActionNewAssignment:
		s.mu.Lock()
		s.lastAssign = &Row{Key: m.Key, Locator: m.Selector}
		s.mu.Unlock()
		s.setStatus(statusAssigned(m.Key, m.Selector))
		s.logger.Debug("settings: assignment reported", "host", m.Host, "key", m.Key, "locator", m.Selector)
		if s.audit != nil {
			params, _ := json.Marshal(assignParams{Host: m.Host, Row: Row{Key: m.Key, Locator: m.Selector}})
			s.audit.LogAsync(&audit.Entry{Action: "assign", Transport: "bus", Parameters: string(params)})
		}
	default:
		s.logger.Debug("settings: ignored message", "action", string(m.Action))
	}
	return nil, nil
}

// History returns recent audited edits; nil without an audit log.
func (s *Service) History(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Recent(ctx, f)
}

func (s *Service) setStatus(msg string) {
	s.mu.Lock()
	s.status = msg
	s.mu.Unlock()
}

func (s *Service) reloadPage(ctx context.Context) {
	bus.Notify(ctx, s.page, bus.Message{Action: bus.ActionReload}, s.logger)
}
