package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/keybind"
	"github.com/hazyhaar/keybind/audit"
	"github.com/hazyhaar/keybind/help"
	"github.com/hazyhaar/keybind/shield"
)

var listCmd = &cobra.Command{
	Use:   "list [host]",
	Short: "List sites, or the shortcuts of one site",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeStore, err := keybind.OpenService(cfg, newLogger())
		if err != nil {
			return err
		}
		defer closeStore()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			sites, err := svc.Sites(ctx)
			if err != nil {
				return err
			}
			for _, s := range sites {
				fmt.Fprintln(out, s)
			}
			return nil
		}

		host := strings.ToLower(args[0])
		entries, err := svc.List(ctx, host)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "text":
			fmt.Fprintln(out, help.Text(host, entries))
		case "markdown":
			md, err := help.Markdown(host, entries)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, md)
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		default:
			return fmt.Errorf("unknown format %q (text, markdown, json)", format)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <host> <key>",
	Short: "Delete one shortcut",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeStore, err := keybind.OpenService(cfg, newLogger())
		if err != nil {
			return err
		}
		defer closeStore()
		if err := svc.Delete(cmd.Context(), strings.ToLower(args[0]), args[1]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), svc.Status())
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <host>",
	Short: "Delete every shortcut of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeStore, err := keybind.OpenService(cfg, newLogger())
		if err != nil {
			return err
		}
		defer closeStore()
		if err := svc.Reset(cmd.Context(), strings.ToLower(args[0])); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), svc.Status())
		return nil
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for settings.auth_hash",
	Long:  "Print a bcrypt hash for settings.auth_hash. Without an argument the password is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pw string
		if len(args) == 1 {
			pw = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw = strings.TrimRight(line, "\r\n")
		}
		if pw == "" {
			return fmt.Errorf("empty password")
		}
		hash, err := shield.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	listCmd.Flags().StringP("format", "f", "text", "output format: text, markdown, json")
}

var historyCmd = &cobra.Command{
	Use:   "history [host]",
	Short: "Show recent shortcut edits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, closeStore, err := keybind.OpenService(cfg, newLogger())
		if err != nil {
			return err
		}
		defer closeStore()

		f := audit.Filter{}
		if len(args) == 1 {
			f.Host = strings.ToLower(args[0])
		}
		f.Limit, _ = cmd.Flags().GetInt("limit")
		entries, err := svc.History(cmd.Context(), f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-8s %-8s %s", time.UnixMilli(e.Timestamp).Format(time.DateTime),
				e.Action, e.Transport, e.Parameters)
			if e.Error != "" {
				line += "  error: " + e.Error
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries")
}
