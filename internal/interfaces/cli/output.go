package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"songhost.dev/cli/internal/application/services"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/core/ranking"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const resultRowFormat = "%3s │ %-28s │ %-20s │ %-12s │ %5s"

// renderResults draws ranked search results as a table.
func renderResults(items []services.SearchItem, selected int) string {
	if len(items) == 0 {
		return dimStyle.Render("No results.")
	}
	rows := []string{headerStyle.Render(fmt.Sprintf(resultRowFormat, "#", "TITLE", "ARTIST", "SOURCE", "SCORE"))}
	for i, it := range items {
		row := fmt.Sprintf(resultRowFormat,
			fmt.Sprint(i+1),
			truncateString(ranking.Title(it.Item), 28),
			truncateString(ranking.Artist(it.Item), 20),
			truncateString(it.Platform, 12),
			fmt.Sprint(it.Score),
		)
		if i == selected {
			row = lipgloss.NewStyle().Background(lipgloss.Color("240")).Render(row)
		}
		rows = append(rows, row)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderFailures lists plugins whose search failed.
func renderFailures(failures map[string]*plugindomain.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	lines := make([]string, 0, len(failures))
	for name, f := range failures {
		lines = append(lines, errStyle.Render(fmt.Sprintf("  %s: %s", name, f.Message)))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

const pluginRowFormat = "%-16s │ %-7s │ %-8s │ %s"

// renderPlugins draws the plugin table in load order.
func renderPlugins(records []plugindomain.PluginRecord, priority []string) string {
	if len(records) == 0 {
		return dimStyle.Render("No plugins loaded.")
	}
	rank := make(map[string]int, len(priority))
	for i, n := range priority {
		rank[n] = i + 1
	}

	rows := []string{headerStyle.Render(fmt.Sprintf(pluginRowFormat, "NAME", "RUNTIME", "STATE", "CAPABILITIES"))}
	for _, r := range records {
		state := errStyle.Render("disabled")
		if r.Enabled {
			state = okStyle.Render(fmt.Sprintf("#%-7d", rank[r.Name]))
		}
		rows = append(rows, fmt.Sprintf(pluginRowFormat, r.Name, r.Runtime, state, r.Capabilities.String()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateString shortens s to max runes.
func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
