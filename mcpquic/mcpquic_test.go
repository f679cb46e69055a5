package mcpquic

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/keybind/settings"
	"github.com/hazyhaar/keybind/store"
)

func TestMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != MagicBytesMCP {
		t.Fatalf("magic: got %q, want %q", buf.String(), MagicBytesMCP)
	}
	if err := ValidateMagicBytes(&buf); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	for _, in := range []string{"MCP1", "KB", ""} {
		err := ValidateMagicBytes(strings.NewReader(in))
		if !errors.Is(err, ErrInvalidMagicBytes) {
			t.Errorf("%q: got %v, want ErrInvalidMagicBytes", in, err)
		}
	}
}

func TestProductionQUICConfig(t *testing.T) {
	cfg := ProductionQUICConfig()
	if cfg.MaxIdleTimeout != DefaultIdleTimeout || cfg.KeepAlivePeriod != DefaultKeepAlive {
		t.Errorf("timeouts: %v %v", cfg.MaxIdleTimeout, cfg.KeepAlivePeriod)
	}
	if cfg.Allow0RTT {
		t.Error("0-RTT should be disabled")
	}
}

func TestSelfSignedTLSConfig(t *testing.T) {
	cfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certs: got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != 0x0304 {
		t.Errorf("min version: got %x", cfg.MinVersion)
	}
	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != ALPNProtocolMCP {
		t.Errorf("ALPN: got %v", cfg.NextProtos)
	}
}

func TestClientDefaults(t *testing.T) {
	c := NewClient("localhost:8443", nil)
	if c.tlsCfg.InsecureSkipVerify {
		t.Error("default client should verify the server certificate")
	}
	if !ClientTLSConfig(true).InsecureSkipVerify {
		t.Error("insecure config should skip verification")
	}
	ctx := context.Background()
	if _, err := c.ListTools(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListTools: got %v", err)
	}
	if _, err := c.CallTool(ctx, "keybind_sites", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallTool: got %v", err)
	}
}

func TestConnectionError(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{RemoteAddr: "127.0.0.1:8443", Code: ConnErrorProtocolViolation, Err: inner}
	msg := ce.Error()
	if !strings.Contains(msg, "127.0.0.1:8443") || !strings.Contains(msg, "0x03") {
		t.Errorf("message: %s", msg)
	}
	if !errors.Is(ce, inner) {
		t.Error("Unwrap should return the inner error")
	}
}

func TestSettingsOverQUIC(t *testing.T) {
	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	svc := settings.New(store.NewShortcuts(store.NewMemoryKV()))
	srv := mcp.NewServer(&mcp.Implementation{Name: "keybind-test", Version: "0.1.0"}, nil)
	svc.RegisterMCP(srv, nil)

	l, err := Listen("127.0.0.1:0", tlsCfg, srv, nil)
	if err != nil {
		t.Skipf("udp loopback unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go l.Serve(ctx)
	defer l.Close()

	c := NewClient(l.Addr().String(), ClientTLSConfig(true))
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 8 {
		t.Errorf("tools: got %d, want 8", len(tools.Tools))
	}

	res, err := c.CallTool(ctx, "keybind_save", map[string]any{
		"host": "example.com",
		"rows": []map[string]string{{"key": "g", "locator": "#go"}},
	})
	if err != nil || res.IsError {
		t.Fatalf("save: %v %+v", err, res)
	}
	sites, err := svc.Sites(ctx)
	if err != nil || len(sites) != 1 || sites[0] != "example.com" {
		t.Errorf("sites: %v %v", sites, err)
	}
}
