package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/dom/htmldoc"
	"github.com/hazyhaar/keybind/fingerprint"
	"github.com/hazyhaar/keybind/resolve"
	"github.com/hazyhaar/keybind/selector"
	"github.com/hazyhaar/keybind/store"
)

// parseFile loads a saved page for the offline tools.
func parseFile(path, host string) (*htmldoc.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return htmldoc.Parse(f, host)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <key>",
	Short: "Resolve a stored shortcut against a saved HTML page",
	Long: `Resolve runs the same ladder as a trigger (locator, then visible text, then
aria-label) against a saved page. With --heal a repaired locator is written
back to the store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		host, _ := cmd.Flags().GetString("host")
		heal, _ := cmd.Flags().GetBool("heal")
		host = strings.ToLower(host)
		key, err := chord.NormalizeKey(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger()
		kv, err := cfg.OpenStore(logger)
		if err != nil {
			return err
		}
		defer kv.Close()
		shortcuts := store.NewShortcuts(kv)

		ctx := cmd.Context()
		site, err := shortcuts.Site(ctx, host)
		if err != nil {
			return err
		}
		fp, ok := site[key]
		if !ok {
			return fmt.Errorf("%w: %q on %s", store.ErrNoBinding, key, host)
		}
		others := maps.Clone(site)
		delete(others, key)

		doc, err := parseFile(file, host)
		if err != nil {
			return err
		}
		opts := []resolve.Option{resolve.WithLogger(logger)}
		if heal {
			opts = append(opts, resolve.WithHealer(shortcuts))
		}
		res, err := resolve.New(opts...).Resolve(ctx, doc, resolve.Target{Key: key, Fingerprint: fp, Others: others})
		if errors.Is(err, resolve.ErrNotFound) {
			return fmt.Errorf("%q (%s) not found on the page", key, fp.DisplayName)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "key:     %s\nmethod:  %s\nlocator: %s\n", key, res.Method, fp.Locator)
		if res.Healed != nil {
			fmt.Fprintf(out, "healed:  %s\n", res.Healed.Locator)
		}
		fmt.Fprintf(out, "element: <%s> %s\n", res.Element.Tag(),
			fingerprint.Truncate(fingerprint.Normalize(res.Element.Text()), 60))
		return nil
	},
}

var synthCmd = &cobra.Command{
	Use:   "synth <css>",
	Short: "Print the fingerprint keybind would store for an element of a saved page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		host, _ := cmd.Flags().GetString("host")
		doc, err := parseFile(file, strings.ToLower(host))
		if err != nil {
			return err
		}
		el := doc.Find(args[0])
		if el == nil {
			return fmt.Errorf("no element matches %q", args[0])
		}

		ctx := cmd.Context()
		var synth selector.Synthesizer
		_, tier, err := synth.SynthesizeTier(ctx, doc, el)
		if err != nil {
			return err
		}
		b := fingerprint.Builder{Synth: synth}
		fp, err := b.Build(ctx, doc, el)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			fingerprint.Fingerprint
			Tier selector.Tier `json:"tier"`
		}{fp, tier})
	},
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, synthCmd} {
		c.Flags().StringP("file", "f", "", "saved HTML page")
		c.Flags().String("host", "", "host the page belongs to")
		c.MarkFlagRequired("file")
	}
	resolveCmd.MarkFlagRequired("host")
	resolveCmd.Flags().Bool("heal", false, "write a repaired locator back to the store")
}
