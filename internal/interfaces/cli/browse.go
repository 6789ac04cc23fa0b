package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"songhost.dev/cli/internal/application/services"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/interfaces/di"
)

func newBrowseCommand(gf *globalFlags) *cobra.Command {
	flags := &SearchFlags{}

	cmd := &cobra.Command{
		Use:   "browse <query>",
		Short: "Browse ranked search results interactively",
		Long: `Search every enabled plugin and browse the ranked results.

Select a result to resolve its media URL or lyrics through the plugin that
returned it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, gf, true, func(ctx context.Context, c *di.Container) error {
				model := newBrowseModel(ctx, c.Search, c.Plugins, flags.request(args))
				program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
				if _, err := program.Run(); err != nil {
					return fmt.Errorf("browse failed: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.Artist, "artist", "", "Artist to match (defaults to the query)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().StringArrayVar(&flags.Plugins, "plugin", nil, "Only search this plugin (repeatable)")

	return cmd
}

// searcher runs aggregated searches.
type searcher interface {
	Search(ctx context.Context, req services.SearchRequest) (services.SearchResult, error)
}

// actionCaller invokes single plugin actions.
type actionCaller interface {
	Call(ctx context.Context, name string, action plugindomain.Action, args plugindomain.Args) (json.RawMessage, error)
}

// browseModel holds the state for the Bubble Tea browser
type browseModel struct {
	ctx      context.Context
	search   searcher
	plugins  actionCaller
	req      services.SearchRequest
	result   services.SearchResult
	selected int
	loading  bool
	detail   string
	err      error

	windowWidth  int
	windowHeight int
}

func newBrowseModel(ctx context.Context, s searcher, plugins actionCaller, req services.SearchRequest) browseModel {
	return browseModel{ctx: ctx, search: s, plugins: plugins, req: req, loading: true}
}

// resultsMsg is sent when a search completes
type resultsMsg struct {
	result services.SearchResult
	err    error
}

// detailMsg is sent when an action on the selected item completes
type detailMsg struct {
	text string
	err  error
}

// Init implements the Bubble Tea init method
func (m browseModel) Init() tea.Cmd {
	return m.searchCmd()
}

func (m browseModel) searchCmd() tea.Cmd {
	req := m.req
	return func() tea.Msg {
		res, err := m.search.Search(m.ctx, req)
		return resultsMsg{result: res, err: err}
	}
}

func (m browseModel) actionCmd(action plugindomain.Action) tea.Cmd {
	if m.selected >= len(m.result.Items) {
		return nil
	}
	it := m.result.Items[m.selected]
	item, err := json.Marshal(it.Item)
	if err != nil {
		return nil
	}
	return func() tea.Msg {
		raw, err := m.plugins.Call(m.ctx, it.Platform, action, plugindomain.Args{Item: item})
		if err != nil {
			return detailMsg{err: err}
		}
		return detailMsg{text: describeResult(action, raw)}
	}
}

// describeResult picks the useful part of an action result.
func describeResult(action plugindomain.Action, raw json.RawMessage) string {
	res := gjson.ParseBytes(raw)
	switch action {
	case plugindomain.ActionGetMediaSource:
		if u := res.Get("url").String(); u != "" {
			return "URL: " + u
		}
		return "No media source."
	case plugindomain.ActionGetLyric:
		if lrc := res.Get("rawLrc").String(); lrc != "" {
			return lrc
		}
		return "No lyrics."
	}
	return string(raw)
}

// Update implements the Bubble Tea update method
func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.detail = ""
			}
			return m, nil

		case "down", "j":
			if m.selected < len(m.result.Items)-1 {
				m.selected++
				m.detail = ""
			}
			return m, nil

		case "enter", "m":
			m.detail = "Resolving media source..."
			return m, m.actionCmd(plugindomain.ActionGetMediaSource)

		case "l":
			m.detail = "Fetching lyrics..."
			return m, m.actionCmd(plugindomain.ActionGetLyric)

		case "r":
			m.loading = true
			return m, m.searchCmd()
		}

	case resultsMsg:
		m.loading = false
		m.result = msg.result
		m.err = msg.err
		if m.selected >= len(m.result.Items) {
			m.selected = 0
		}
		return m, nil

	case detailMsg:
		if msg.err != nil {
			m.detail = errStyle.Render(msg.err.Error())
		} else {
			m.detail = msg.text
		}
		return m, nil
	}

	return m, nil
}

// View implements the Bubble Tea view method
func (m browseModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress 'q' to quit", m.err)
	}

	title := headerStyle.Render(fmt.Sprintf("songhost: %q", m.req.Query))
	status := dimStyle.Render(sourcesLine(m.result))
	if m.loading {
		status = dimStyle.Render("Searching...")
	}

	parts := []string{lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", status), ""}
	parts = append(parts, renderResults(m.visibleItems(), m.selected-m.offset()))
	if m.detail != "" {
		parts = append(parts, "", truncateLines(m.detail, 8))
	}
	parts = append(parts, "", dimStyle.Render("Controls: [↑↓] Navigate | [Enter] Media URL | [l] Lyrics | [r] Refresh | [q] Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// offset scrolls so the selection stays visible.
func (m browseModel) offset() int {
	rows := m.windowHeight - 14
	if rows <= 0 || m.selected < rows {
		return 0
	}
	return m.selected - rows + 1
}

func (m browseModel) visibleItems() []services.SearchItem {
	items := m.result.Items[m.offset():]
	if rows := m.windowHeight - 14; rows > 0 && len(items) > rows {
		items = items[:rows]
	}
	return items
}

func truncateLines(s string, max int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > max {
		lines = append(lines[:max], "...")
	}
	return strings.Join(lines, "\n")
}
