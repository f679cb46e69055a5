package keybind

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/keybind/audit"
	"github.com/hazyhaar/keybind/bus"
	"github.com/hazyhaar/keybind/mcpquic"
	"github.com/hazyhaar/keybind/settings"
	"github.com/hazyhaar/keybind/store"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// Server is the settings context: the settings service behind HTTP and,
// optionally, MCP over QUIC.
type Server struct {
	cfg    *Config
	logger *slog.Logger
}

// NewServer creates a Server. A nil cfg uses DefaultConfig.
func NewServer(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// OpenService opens the store and its audit log and builds the settings
// service talking to the page agent at cfg.Settings.PageBusURL. The returned
// close function flushes the audit log and releases the store.
func OpenService(cfg *Config, logger *slog.Logger) (*settings.Service, func() error, error) {
	chords, err := cfg.KeyChords()
	if err != nil {
		return nil, nil, err
	}
	kv, err := cfg.OpenStore(logger)
	if err != nil {
		return nil, nil, err
	}
	auditLog := audit.NewSQLiteLogger(kv.DB, audit.WithLogger(logger))
	if err := auditLog.Init(); err != nil {
		auditLog.Close()
		kv.Close()
		return nil, nil, err
	}
	svc := settings.New(store.NewShortcuts(kv),
		settings.WithPage(bus.NewHTTPClient(cfg.Settings.PageBusURL)),
		settings.WithTrigger(chords.Trigger),
		settings.WithAudit(auditLog),
		settings.WithLogger(logger),
	)
	closeFn := func() error {
		auditLog.Close()
		return kv.Close()
	}
	return svc, closeFn, nil
}

// NewMCPServer returns an MCP server exposing the settings tools.
func NewMCPServer(svc *settings.Service, logger *slog.Logger) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "keybind", Version: Version}, nil)
	svc.RegisterMCP(srv, logger)
	return srv
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg
	svc, closeStore, err := OpenService(cfg, s.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Sync the capture toggle with the page, if one is running.
	s.logger.Info("keybind: capture state", "on", svc.CaptureState(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)

	srv := &http.Server{
		Addr: cfg.Settings.Addr,
		Handler: settings.Router(svc, settings.RouterConfig{
			AuthUser: cfg.Settings.AuthUser,
			AuthHash: cfg.Settings.AuthHash,
			Logger:   s.logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() { errc <- listen(srv) }()
	defer shutdown(srv)

	if cfg.Settings.MCPQUIC != "" {
		tlsCfg, err := s.tlsConfig()
		if err != nil {
			return err
		}
		l, err := mcpquic.Listen(cfg.Settings.MCPQUIC, tlsCfg, NewMCPServer(svc, s.logger), s.logger)
		if err != nil {
			return fmt.Errorf("keybind: mcp quic listen: %w", err)
		}
		defer l.Close()
		go func() { errc <- l.Serve(ctx) }()
	}

	s.logger.Info("keybind: settings ready", "addr", cfg.Settings.Addr, "mcp_quic", cfg.Settings.MCPQUIC)
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.cfg.Settings.TLSCert != "" {
		return mcpquic.LoadTLSConfig(s.cfg.Settings.TLSCert, s.cfg.Settings.TLSKey)
	}
	s.logger.Warn("keybind: mcp quic uses a self-signed certificate")
	return mcpquic.SelfSignedTLSConfig()
}

// ServeMCPStdio serves the settings tools on stdin/stdout until the client
// disconnects or ctx is cancelled.
func ServeMCPStdio(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	svc, closeStore, err := OpenService(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return NewMCPServer(svc, logger).Run(ctx, &mcp.StdioTransport{})
}
