package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/keybind/audit"
	"github.com/hazyhaar/keybind/help"
	"github.com/hazyhaar/keybind/kit"
)

// ErrBadRequest marks a request that is missing a required field.
var ErrBadRequest = errors.New("settings: bad request")

type emptyReq struct{}

type siteReq struct {
	Host string `json:"host"`
}

type helpReq struct {
	Host   string `json:"host"`
	Format string `json:"format"`
}

type saveReq struct {
	Host string `json:"host"`
	Rows []Row  `json:"rows"`
}

type deleteReq struct {
	Host string `json:"host"`
	Key  string `json:"key"`
}

type toggleReq struct {
	State bool `json:"state"`
}

type historyReq struct {
	Host   string `json:"host"`
	Action string `json:"action"`
	Limit  int    `json:"limit"`
}

type historyResp struct {
	Entries []audit.Entry `json:"entries"`
}

type sitesResp struct {
	Sites []string `json:"sites"`
}

type listResp struct {
	Host      string       `json:"host"`
	Shortcuts []help.Entry `json:"shortcuts"`
}

type stateResp struct {
	State     bool `json:"state"`
	Delivered bool `json:"delivered"`
}

type statusResp struct {
	Status         string `json:"status"`
	LastAssignment *Row   `json:"last_assignment,omitempty"`
}

type okResp struct {
	Status string `json:"status"`
}

// Endpoints are the settings operations as kit endpoints, shared by the HTTP
// API and the MCP tools.
type Endpoints struct {
	Sites   kit.Endpoint
	List    kit.Endpoint
	Help    kit.Endpoint
	Save    kit.Endpoint
	Delete  kit.Endpoint
	Reset   kit.Endpoint
	Capture kit.Endpoint
	State   kit.Endpoint
	Status  kit.Endpoint
	History kit.Endpoint
}

// MakeEndpoints wraps every operation of s with logging, and the edits with
// auditing when s has an audit log.
func MakeEndpoints(s *Service, logger *slog.Logger) Endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(logger, name))(ep)
	}
	edit := func(name string, ep kit.Endpoint) kit.Endpoint {
		if s.audit == nil {
			return wrap(name, ep)
		}
		return kit.Chain(kit.Logging(logger, name), audit.Middleware(s.audit, name))(ep)
	}
	return Endpoints{
		Sites: wrap("sites", func(ctx context.Context, _ any) (any, error) {
			sites, err := s.Sites(ctx)
			if err != nil {
				return nil, err
			}
			if sites == nil {
				sites = []string{}
			}
			return sitesResp{Sites: sites}, nil
		}),
		List: wrap("list", func(ctx context.Context, req any) (any, error) {
			r := req.(siteReq)
			if r.Host == "" {
				return nil, fmt.Errorf("%w: host is required", ErrBadRequest)
			}
			entries, err := s.List(ctx, r.Host)
			if err != nil {
				return nil, err
			}
			return listResp{Host: r.Host, Shortcuts: entries}, nil
		}),
		Help: wrap("help", func(ctx context.Context, req any) (any, error) {
			r := req.(helpReq)
			if r.Host == "" {
				return nil, fmt.Errorf("%w: host is required", ErrBadRequest)
			}
			entries, err := s.List(ctx, r.Host)
			if err != nil {
				return nil, err
			}
			switch r.Format {
			case "", "markdown":
				return help.Markdown(r.Host, entries)
			case "text":
				return help.Text(r.Host, entries), nil
			case "html":
				return help.HTML(r.Host, entries), nil
			}
			return nil, fmt.Errorf("%w: unknown format %q", ErrBadRequest, r.Format)
		}),
		Save: edit("save", func(ctx context.Context, req any) (any, error) {
			r := req.(saveReq)
			if r.Host == "" {
				return nil, fmt.Errorf("%w: host is required", ErrBadRequest)
			}
			return s.SaveRows(ctx, r.Host, r.Rows)
		}),
		Delete: edit("delete", func(ctx context.Context, req any) (any, error) {
			r := req.(deleteReq)
			if r.Host == "" || r.Key == "" {
				return nil, fmt.Errorf("%w: host and key are required", ErrBadRequest)
			}
			if err := s.Delete(ctx, r.Host, r.Key); err != nil {
				return nil, err
			}
			return okResp{Status: s.Status()}, nil
		}),
		Reset: edit("reset", func(ctx context.Context, req any) (any, error) {
			r := req.(siteReq)
			if r.Host == "" {
				return nil, fmt.Errorf("%w: host is required", ErrBadRequest)
			}
			if err := s.Reset(ctx, r.Host); err != nil {
				return nil, err
			}
			return okResp{Status: s.Status()}, nil
		}),
		Capture: edit("capture", func(ctx context.Context, req any) (any, error) {
			r := req.(toggleReq)
			delivered, err := s.ToggleCapture(ctx, r.State)
			if err != nil {
				return nil, err
			}
			return stateResp{State: r.State && delivered, Delivered: delivered}, nil
		}),
		State: wrap("state", func(ctx context.Context, _ any) (any, error) {
			return stateResp{State: s.CaptureState(ctx), Delivered: true}, nil
		}),
		Status: wrap("status", func(_ context.Context, _ any) (any, error) {
			resp := statusResp{Status: s.Status()}
			if r, ok := s.LastAssignment(); ok {
				resp.LastAssignment = &r
			}
			return resp, nil
		}),
		History: wrap("history", func(ctx context.Context, req any) (any, error) {
			r := req.(historyReq)
			entries, err := s.History(ctx, audit.Filter{Host: r.Host, Action: r.Action, Limit: r.Limit})
			if err != nil {
				return nil, err
			}
			if entries == nil {
				entries = []audit.Entry{}
			}
			return historyResp{Entries: entries}, nil
		}),
	}
}
