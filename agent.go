package keybind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/capture"
	"github.com/hazyhaar/keybind/internal/bridge"
	"github.com/hazyhaar/keybind/internal/browser"
	"github.com/hazyhaar/keybind/shield"
	"github.com/hazyhaar/keybind/store"
	"github.com/hazyhaar/keybind/watch"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Agent is the page context: one Chrome tab with the capture controller
// attached, its bus endpoint, and a store watcher.
type Agent struct {
	cfg    *Config
	logger *slog.Logger
}

// NewAgent creates an Agent. A nil cfg uses DefaultConfig.
func NewAgent(cfg *Config, logger *slog.Logger) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, logger: logger}
}

// Run starts the browser and serves until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	cfg := a.cfg
	chords, err := cfg.KeyChords()
	if err != nil {
		return err
	}
	stealthLevel, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return err
	}

	kv, err := cfg.OpenStore(a.logger)
	if err != nil {
		return err
	}
	defer kv.Close()
	shortcuts := store.NewShortcuts(kv)

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Stealth:          stealthLevel,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Bin:              cfg.Browser.Bin,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           a.logger,
	})
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("keybind: start browser: %w", err)
	}
	tab, err := browser.OpenTab(ctx, mgr, "")
	if err != nil {
		return fmt.Errorf("keybind: open tab: %w", err)
	}
	defer tab.Close()

	ctrl := capture.New(shortcuts,
		capture.WithUI(bridge.NewUI(tab.Page, a.logger)),
		capture.WithSettings(bus.NewHTTPClient(cfg.Bus.SettingsURL)),
		capture.WithChords(chords),
		capture.WithPromptDelay(cfg.EffectivePromptDelay()),
		capture.WithLogger(a.logger),
	)
	br := bridge.New(tab.Page, ctrl, a.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		go func() {
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("keybind: "+name+" stopped", "error", err)
				errc <- fmt.Errorf("keybind: %s: %w", name, err)
				return
			}
			errc <- nil
		}()
	}
	spawn("controller", ctrl.Run)
	spawn("bridge", br.Run)

	if err := br.Install(ctx); err != nil {
		return err
	}
	if err := tab.Navigate(ctx, cfg.StartURL); err != nil {
		a.logger.Warn("keybind: start page", "url", cfg.StartURL, "error", err)
	}

	srv := &http.Server{
		Addr:              cfg.Bus.Addr,
		Handler:           busRouter(br, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	spawn("bus server", func(context.Context) error { return listen(srv) })
	defer shutdown(srv)

	w := watch.New(kv.DB, watch.Options{
		Interval: cfg.Watch.Interval,
		Debounce: cfg.Watch.Debounce,
		Logger:   a.logger,
	})
	go w.OnChange(ctx, func() error {
		_, err := br.Dispatch(ctx, capture.Reload{})
		return err
	})

	a.logger.Info("keybind: agent ready",
		"bus", cfg.Bus.Addr, "settings", cfg.Bus.SettingsURL, "start_url", cfg.StartURL)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// busRouter serves the page side of the bus.
func busRouter(h bus.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(logger) {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post(bus.Path, bus.Endpoint(h, logger))
	return r
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(ctx)
}
