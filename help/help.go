// Package help renders the shortcut listing of one site: as a terminal table
// for the CLI, as sanitised HTML for the in-page overlay, and as Markdown for
// MCP clients.
package help

import (
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	mdtable "github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/keybind/chord"
	"github.com/hazyhaar/keybind/store"
)

// EmptyMessage is shown instead of a listing when the site has no bindings.
const EmptyMessage = "No shortcuts for this site yet. Turn on capture mode, click an element, then press a key."

// OverlayClass is the class of the overlay root element.
const OverlayClass = "kb-help"

// Entry is one line of the listing.
type Entry struct {
	Key     string `json:"key"`
	Chord   string `json:"chord"`
	Name    string `json:"name"`
	Locator string `json:"locator"`
}

// Entries lists m in key order, labelling each key with the trigger chord.
func Entries(m store.SiteMap, trigger chord.Spec) []Entry {
	out := make([]Entry, 0, len(m))
	for _, k := range m.Keys() {
		fp := m[k]
		out = append(out, Entry{
			Key:     k,
			Chord:   trigger.Label(k),
			Name:    fp.DisplayName,
			Locator: fp.Locator,
		})
	}
	return out
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7f849c")).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Text renders the listing as a terminal table.
func Text(host string, entries []Entry) string {
	title := titleStyle.Render(host)
	if len(entries) == 0 {
		return title + "\n" + EmptyMessage + "\n"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Chord, e.Name, e.Locator})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("CHORD", "NAME", "LOCATOR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2:
				return dimStyle
			}
			return cellStyle
		})
	return title + "\n" + t.String() + "\n"
}

var overlayPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "h2", "p", "table", "thead", "tbody", "tr", "th", "td", "kbd")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div", "p", "table")
	p.AllowAttrs("role").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div")
	return p
}()

// HTML renders the overlay markup. Display names come from arbitrary pages,
// so the result is passed through a strict sanitising policy.
func HTML(host string, entries []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="%s" role="dialog"><h2>Shortcuts for %s</h2>`, OverlayClass, html.EscapeString(host))
	if len(entries) == 0 {
		fmt.Fprintf(&b, `<p class="%s-empty">%s</p>`, OverlayClass, html.EscapeString(EmptyMessage))
	} else {
		b.WriteString(`<table><thead><tr><th>Keys</th><th>Element</th></tr></thead><tbody>`)
		for _, e := range entries {
			fmt.Fprintf(&b, `<tr><td><kbd>%s</kbd></td><td>%s</td></tr>`,
				html.EscapeString(e.Chord), html.EscapeString(e.Name))
		}
		b.WriteString(`</tbody></table>`)
	}
	b.WriteString(`</div>`)
	return overlayPolicy.Sanitize(b.String())
}

var mdConverter = md.NewConverter(
	md.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		mdtable.NewTablePlugin(),
	),
)

// Markdown renders the listing for chat-style clients.
func Markdown(host string, entries []Entry) (string, error) {
	out, err := mdConverter.ConvertString(HTML(host, entries))
	if err != nil {
		return "", fmt.Errorf("help: markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
