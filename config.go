// Package keybind wires the capture controller to a live browser tab and the
// settings service to its HTTP and MCP surfaces.
package keybind

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/keybind/capture"
	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dbopen"
	"github.com/hazyhaar/keybind/store"
	"github.com/hazyhaar/keybind/trace"
)

// Config is the top-level keybind configuration.
type Config struct {
	DBPath      string         `yaml:"db_path"`
	DBTrace     bool           `yaml:"db_trace"` // log every statement at debug level
	StartURL    string         `yaml:"start_url"`
	PromptDelay time.Duration  `yaml:"prompt_delay"` // negative: announce immediately
	Browser     BrowserConfig  `yaml:"browser"`
	Chords      ChordConfig    `yaml:"chords"`
	Settings    SettingsConfig `yaml:"settings"`
	Bus         BusConfig      `yaml:"bus"`
	Watch       WatchConfig    `yaml:"watch"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Bin              string   `yaml:"bin"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// ChordConfig is the key surface, each chord written like "ctrl+shift+k".
type ChordConfig struct {
	Trigger      string `yaml:"trigger"`
	QuickCapture string `yaml:"quick_capture"`
	Help         string `yaml:"help"`
	Cancel       string `yaml:"cancel"`
}

// SettingsConfig is the settings service.
type SettingsConfig struct {
	Addr       string `yaml:"addr"`
	AuthUser   string `yaml:"auth_user"`
	AuthHash   string `yaml:"auth_hash"` // bcrypt
	PageBusURL string `yaml:"page_bus_url"`
	MCPQUIC    string `yaml:"mcp_quic_addr"` // empty: no QUIC listener
	TLSCert    string `yaml:"tls_cert"`      // empty: self-signed
	TLSKey     string `yaml:"tls_key"`
}

// BusConfig is the page side of the message bus.
type BusConfig struct {
	Addr        string `yaml:"addr"`
	SettingsURL string `yaml:"settings_url"`
}

// WatchConfig controls store change polling.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keybind: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("keybind: parse config: %w", err)
	}
	cfg.applyDefaults()
	if _, err := cfg.KeyChords(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "keybind.db"
	}
	if c.StartURL == "" {
		c.StartURL = "https://example.com"
	}
	if c.PromptDelay == 0 {
		c.PromptDelay = capture.DefaultPromptDelay
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headful"
	}
	if c.Browser.XvfbDisplay == "" && c.Browser.Remote == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Chords.Trigger == "" {
		c.Chords.Trigger = "alt+shift"
	}
	if c.Chords.QuickCapture == "" {
		c.Chords.QuickCapture = "ctrl+shift+k"
	}
	if c.Chords.Help == "" {
		c.Chords.Help = "ctrl+shift+h"
	}
	if c.Chords.Cancel == "" {
		c.Chords.Cancel = "escape"
	}
	if c.Settings.Addr == "" {
		c.Settings.Addr = "127.0.0.1:8087"
	}
	if c.Settings.PageBusURL == "" {
		c.Settings.PageBusURL = "http://127.0.0.1:8088/bus"
	}
	if c.Bus.Addr == "" {
		c.Bus.Addr = "127.0.0.1:8088"
	}
	if c.Bus.SettingsURL == "" {
		c.Bus.SettingsURL = "http://127.0.0.1:8087/bus"
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 500 * time.Millisecond
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 200 * time.Millisecond
	}
}

// KeyChords parses the chord strings.
func (c *Config) KeyChords() (capture.Chords, error) {
	var ch capture.Chords
	for _, f := range []struct {
		name string
		src  string
		dst  *chord.Spec
	}{
		{"trigger", c.Chords.Trigger, &ch.Trigger},
		{"quick_capture", c.Chords.QuickCapture, &ch.QuickCapture},
		{"help", c.Chords.Help, &ch.Help},
		{"cancel", c.Chords.Cancel, &ch.Cancel},
	} {
		spec, err := chord.Parse(f.src)
		if err != nil {
			return capture.Chords{}, fmt.Errorf("keybind: chords.%s: %w", f.name, err)
		}
		*f.dst = spec
	}
	if !ch.Trigger.HasPayload() {
		return capture.Chords{}, fmt.Errorf("keybind: chords.trigger %q must be modifiers only", c.Chords.Trigger)
	}
	return ch, nil
}

// EffectivePromptDelay is the delay handed to the controller.
func (c *Config) EffectivePromptDelay() time.Duration {
	if c.PromptDelay < 0 {
		return 0
	}
	return c.PromptDelay
}

// OpenStore opens the shortcut database at DBPath, through the tracing driver
// when DBTrace is set.
func (c *Config) OpenStore(logger *slog.Logger) (*store.SQLiteKV, error) {
	var opts []dbopen.Option
	if c.DBTrace {
		trace.SetLogger(logger)
		opts = append(opts, dbopen.WithDriver(trace.DriverName))
	}
	kv, err := store.OpenSQLite(c.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("keybind: open store: %w", err)
	}
	return kv, nil
}
