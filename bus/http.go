package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxBody caps message bodies in both directions.
const maxBody int64 = 64 << 10

// Path is where NewHTTPHandler mounts the endpoint.
const Path = "/bus"

// NewHTTPHandler exposes h as POST /bus. The request body is one Message;
// the response is the reply Message (200) or empty (204). A handler returning
// ErrUnavailable maps to 503.
func NewHTTPHandler(h Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Post(Path, Endpoint(h, logger))
	return r
}

// Endpoint is the POST handler behind NewHTTPHandler, for mounting on an
// existing router.
func Endpoint(h Handler, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, req *http.Request) {
		var m Message
		if err := json.NewDecoder(io.LimitReader(req.Body, maxBody)).Decode(&m); err != nil {
			http.Error(w, "bad message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if m.Action == "" {
			http.Error(w, "missing action", http.StatusBadRequest)
			return
		}
		reply, err := h.HandleMessage(req.Context(), m)
		if errors.Is(err, ErrUnavailable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			logger.Warn("bus: handle failed", "action", string(m.Action), "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

// HTTPClient sends messages to a peer's NewHTTPHandler.
type HTTPClient struct {
	URL    string
	Client *http.Client
}

// NewHTTPClient creates a client for the endpoint at url.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Send implements Sender. A peer that refuses the connection or answers 503
// is reported as ErrUnavailable.
func (c *HTTPClient) Send(ctx context.Context, m Message) (*Message, error) {
	if c == nil || c.URL == "" {
		return nil, ErrUnavailable
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bus: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bus: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("bus: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("bus: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var reply Message
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("bus: decode reply: %w", err)
	}
	return &reply, nil
}
