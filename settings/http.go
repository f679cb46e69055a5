package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/kit"
	"github.com/hazyhaar/keybind/shield"
	"github.com/hazyhaar/keybind/store"
)

// RouterConfig configures Router.
type RouterConfig struct {
	// AuthUser and AuthHash (bcrypt) protect /api; empty AuthUser disables
	// the check.
	AuthUser string
	AuthHash string
	Logger   *slog.Logger
}

// Router exposes the settings service over HTTP:
//
//	GET    /health
//	GET    /api/sites
//	GET    /api/sites/{host}/shortcuts
//	PUT    /api/sites/{host}/shortcuts        {"rows":[{"key","locator"}]}
//	DELETE /api/sites/{host}/shortcuts        reset the site
//	DELETE /api/sites/{host}/shortcuts/{key}
//	GET    /api/sites/{host}/help?format=markdown|text|html
//	GET    /api/capture
//	POST   /api/capture                       {"state":true}
//	GET    /api/status
//	GET    /api/history?host=&action=&limit=
//	POST   /bus                               page agent messages
//
// /bus stays outside basic auth: the page agent posts to it unauthenticated.
func Router(s *Service, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ep := MakeEndpoints(s, logger)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(bus.Path, bus.Endpoint(s, logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(shield.BasicAuth("keybind", cfg.AuthUser, cfg.AuthHash))

		r.Get("/sites", serve(ep.Sites, func(*http.Request) (any, error) { return emptyReq{}, nil }))
		r.Route("/sites/{host}", func(r chi.Router) {
			r.Get("/shortcuts", serve(ep.List, func(req *http.Request) (any, error) {
				return siteReq{Host: chi.URLParam(req, "host")}, nil
			}))
			r.Put("/shortcuts", serve(ep.Save, func(req *http.Request) (any, error) {
				var body struct {
					Rows []Row `json:"rows"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					return nil, err
				}
				return saveReq{Host: chi.URLParam(req, "host"), Rows: body.Rows}, nil
			}))
			r.Delete("/shortcuts", serve(ep.Reset, func(req *http.Request) (any, error) {
				return siteReq{Host: chi.URLParam(req, "host")}, nil
			}))
			r.Delete("/shortcuts/{key}", serve(ep.Delete, func(req *http.Request) (any, error) {
				return deleteReq{Host: chi.URLParam(req, "host"), Key: chi.URLParam(req, "key")}, nil
			}))
			r.Get("/help", serveText(ep.Help, func(req *http.Request) (any, error) {
				return helpReq{Host: chi.URLParam(req, "host"), Format: req.URL.Query().Get("format")}, nil
			}))
		})
		r.Get("/capture", serve(ep.State, func(*http.Request) (any, error) { return emptyReq{}, nil }))
		r.Post("/capture", serve(ep.Capture, func(req *http.Request) (any, error) {
			var body toggleReq
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			return body, nil
		}))
		r.Get("/status", serve(ep.Status, func(*http.Request) (any, error) { return emptyReq{}, nil }))
		r.Get("/history", serve(ep.History, func(req *http.Request) (any, error) {
			q := req.URL.Query()
			hr := historyReq{Host: q.Get("host"), Action: q.Get("action")}
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("%w: limit: %v", ErrBadRequest, err)
				}
				hr.Limit = n
			}
			return hr, nil
		}))
	})
	return r
}

type decodeFunc func(*http.Request) (any, error)

func serve(ep kit.Endpoint, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp, ok := call(w, req, ep, decode)
		if ok {
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

func serveText(ep kit.Endpoint, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp, ok := call(w, req, ep, decode)
		if !ok {
			return
		}
		text, _ := resp.(string)
		ct := "text/markdown; charset=utf-8"
		switch req.URL.Query().Get("format") {
		case "text":
			ct = "text/plain; charset=utf-8"
		case "html":
			ct = "text/html; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
		w.Write([]byte(text))
	}
}

func call(w http.ResponseWriter, req *http.Request, ep kit.Endpoint, decode decodeFunc) (any, bool) {
	in, err := decode(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	resp, err := ep(req.Context(), in)
	if err != nil {
		writeError(w, statusOf(err), err)
		return nil, false
	}
	return resp, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNoBinding):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
