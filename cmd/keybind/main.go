// Command keybind binds keyboard chords to page elements.
//
// Usage:
//
//	keybind run                      # open Chrome with the capture agent
//	keybind serve                    # settings API (HTTP, optional MCP over QUIC)
//	keybind mcp                      # settings tools on stdio
//	keybind list example.com         # print a site's shortcuts
//	keybind resolve -f page.html --host example.com g
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/keybind"
)

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
	flagDBTrace  bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "keybind",
	Short: "Bind keyboard chords to page elements",
	Long: `keybind lets a keyboard user bind Alt+Shift+<key> chords to elements of
the pages they visit. Bindings are stored per host in SQLite and repaired
automatically when the page changes.`,
	Version:       keybind.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "path to keybind.yaml")
	pf.StringVar(&flagDB, "db", "", "SQLite database path (overrides db_path)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&flagDBTrace, "db-trace", false, "log every SQL statement (needs --log-level debug)")

	rootCmd.AddCommand(runCmd, serveCmd, mcpCmd, listCmd, deleteCmd, resetCmd,
		historyCmd, resolveCmd, synthCmd, hashCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch flagLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*keybind.Config, error) {
	cfg := keybind.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = keybind.LoadConfigFile(flagConfig); err != nil {
			return nil, err
		}
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagDBTrace {
		cfg.DBTrace = true
	}
	return cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open Chrome with the capture agent attached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if url, _ := cmd.Flags().GetString("url"); url != "" {
			cfg.StartURL = url
		}
		return keybind.NewAgent(cfg, newLogger()).Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the settings API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("mcp-quic"); addr != "" {
			cfg.Settings.MCPQUIC = addr
		}
		return keybind.NewServer(cfg, newLogger()).Run(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the settings tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return keybind.ServeMCPStdio(cmd.Context(), cfg, newLogger())
	},
}

func init() {
	runCmd.Flags().String("url", "", "start page (overrides start_url)")
	serveCmd.Flags().String("mcp-quic", "", "UDP address for MCP over QUIC (overrides settings.mcp_quic_addr)")
}
