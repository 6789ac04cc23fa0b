package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"songhost.dev/cli/internal/application/ports"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
	"songhost.dev/cli/internal/core/ranking"
)

// DirectSourceName is the platform label of the direct source.
const DirectSourceName = "OpenAPI"

// SearchRequest is one aggregated search.
type SearchRequest struct {
	Query  string
	Artist string
	Limit  int
	Page   int
	// Plugins restricts the search to these names; empty means every
	// enabled plugin.
	Plugins []string
}

// SearchItem is a ranked result with its stable id.
type SearchItem struct {
	UID string `json:"uid"`
	ranking.Ranked
}

// SearchResult is the merged, ranked answer.
type SearchResult struct {
	Items    []SearchItem                     `json:"data"`
	Total    int                              `json:"total"`
	Sources  map[string]int                   `json:"sources"`
	Page     int                              `json:"page"`
	Limit    int                              `json:"limit"`
	Direct   bool                             `json:"direct"`
	Failures map[string]*plugindomain.Failure `json:"failures,omitempty"`
}

// SourceNames lists the sources that contributed, sorted.
func (r SearchResult) SourceNames() []string {
	names := make([]string, 0, len(r.Sources))
	for n := range r.Sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type endpointUpdater interface {
	UpdateEndpoint(endpoint string) error
}

// SearchAggregator fans a query out to every enabled plugin, or to the
// direct source when one is configured, and ranks the merged results.
type SearchAggregator struct {
	plugins      *PluginLifecycleManager
	direct       ports.DirectSource
	logger       ports.LoggingGateway
	defaultLimit int
	concurrency  int
}

// NewSearchAggregator builds an aggregator. direct may be nil.
func NewSearchAggregator(plugins *PluginLifecycleManager, direct ports.DirectSource, logger ports.LoggingGateway, defaultLimit, concurrency int) *SearchAggregator {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &SearchAggregator{
		plugins:      plugins,
		direct:       direct,
		logger:       logger,
		defaultLimit: defaultLimit,
		concurrency:  concurrency,
	}
}

// Search runs req. Individual plugin failures never fail the search; they
// are reported in SearchResult.Failures and contribute no items.
func (a *SearchAggregator) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.Artist) == "" {
		return SearchResult{}, plugindomain.NewFailure(plugindomain.KindInvalidRequest, "", string(plugindomain.ActionSearch), "query cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = a.defaultLimit
	}
	if req.Page <= 0 {
		req.Page = plugindomain.DefaultPage
	}
	if req.Artist == "" {
		req.Artist = req.Query
	}
	query := ranking.Query{Keyword: req.Query, Artist: req.Artist}

	if len(req.Plugins) == 0 {
		if result, ok := a.searchDirect(ctx, req, query); ok {
			return result, nil
		}
	}

	names := a.targets(req.Plugins)
	result := SearchResult{
		Sources:  make(map[string]int, len(names)),
		Page:     req.Page,
		Limit:    req.Limit,
		Failures: make(map[string]*plugindomain.Failure),
	}
	if len(names) == 0 {
		result.Items = []SearchItem{}
		return result, nil
	}

	perPlugin := req.Limit / len(names)
	if perPlugin < 1 {
		perPlugin = 1
	}

	lists := make([][]map[string]interface{}, len(names))
	failures := make([]*plugindomain.Failure, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			items, err := a.searchPlugin(gctx, name, req)
			if err != nil {
				failures[i] = plugindomain.AsFailure(err, plugindomain.KindPluginThrew, name, string(plugindomain.ActionSearch))
				return nil
			}
			if len(items) > perPlugin {
				items = items[:perPlugin]
			}
			lists[i] = items
			return nil
		})
	}
	// Workers never return errors.
	_ = g.Wait()

	var merged []map[string]interface{}
	for i, name := range names {
		if failures[i] != nil {
			result.Failures[name] = failures[i]
			a.log(ports.LogLevelWarn, "plugin search failed", map[string]interface{}{
				"plugin": name,
				"error":  failures[i].Error(),
			})
			continue
		}
		result.Sources[name] = len(lists[i])
		merged = append(merged, lists[i]...)
	}

	ranked := ranking.Rank(query, merged, ranking.PlatformWeights(a.plugins.EnabledInPriority()))
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}
	result.Items = withUIDs(ranked)
	result.Total = len(result.Items)
	return result, nil
}

// searchDirect queries the direct source when it is enabled. Results are
// returned in source order. ok is false when the plugins should be asked
// instead.
func (a *SearchAggregator) searchDirect(ctx context.Context, req SearchRequest, query ranking.Query) (SearchResult, bool) {
	if a.direct == nil {
		return SearchResult{}, false
	}
	cfg, err := a.plugins.Config()
	if err != nil || !cfg.OpenAPI.Enabled || cfg.OpenAPI.SearchURL == "" {
		return SearchResult{}, false
	}

	if u, ok := a.direct.(endpointUpdater); ok {
		if err := u.UpdateEndpoint(cfg.OpenAPI.SearchURL); err != nil {
			a.log(ports.LogLevelWarn, "invalid direct source url", map[string]interface{}{"url": cfg.OpenAPI.SearchURL, "error": err.Error()})
			return SearchResult{}, false
		}
	}

	items, err := a.direct.Search(ctx, req.Query, req.Limit)
	if err != nil {
		a.log(ports.LogLevelWarn, "direct source failed, falling back to plugins", map[string]interface{}{"error": err.Error()})
		return SearchResult{}, false
	}
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}

	weights := ranking.Weights{}
	ranked := make([]ranking.Ranked, len(items))
	for i, item := range items {
		platform, _ := item["platform"].(string)
		as, ts := ranking.Score(query, ranking.Title(item), ranking.Artist(item))
		w := weights.Of(platform)
		ranked[i] = ranking.Ranked{Item: item, Platform: platform, Score: as + ts + w, ArtistScore: as, TitleScore: ts, Weight: w}
	}

	out := withUIDs(ranked)
	return SearchResult{
		Items:   out,
		Total:   len(out),
		Sources: map[string]int{DirectSourceName: len(out)},
		Page:    req.Page,
		Limit:   req.Limit,
		Direct:  true,
	}, true
}

// targets resolves the plugins to ask: the explicit selection or every
// enabled plugin, keeping only search-capable ones.
func (a *SearchAggregator) targets(selected []string) []string {
	candidates := selected
	if len(candidates) == 0 {
		candidates = a.plugins.EnabledInPriority()
	}
	var out []string
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true
		rec, ok := a.plugins.Record(name)
		if !ok || !rec.Supports(plugindomain.ActionSearch) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (a *SearchAggregator) searchPlugin(ctx context.Context, name string, req SearchRequest) ([]map[string]interface{}, error) {
	raw, err := a.plugins.Call(ctx, name, plugindomain.ActionSearch, plugindomain.Args{
		Query: req.Query,
		Page:  req.Page,
		Type:  plugindomain.DefaultType,
	})
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, plugindomain.NewFailure(plugindomain.KindInvalidResultShape, name, string(plugindomain.ActionSearch), "failed to decode search result: %v", err)
	}

	items := make([]map[string]interface{}, 0, len(page.Data))
	skipped := 0
	for _, elem := range page.Data {
		var item map[string]interface{}
		if err := json.Unmarshal(elem, &item); err != nil || item == nil {
			skipped++
			continue
		}
		if _, ok := item["platform"]; !ok {
			item["platform"] = name
		}
		items = append(items, item)
	}
	if skipped > 0 {
		a.log(ports.LogLevelDebug, "skipped non-object search items", map[string]interface{}{"plugin": name, "skipped": skipped})
	}
	return items, nil
}

func withUIDs(ranked []ranking.Ranked) []SearchItem {
	out := make([]SearchItem, len(ranked))
	for i, r := range ranked {
		out[i] = SearchItem{UID: fmt.Sprintf("online_%s_%s", r.Platform, ranking.ID(r.Item)), Ranked: r}
	}
	return out
}

func (a *SearchAggregator) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	if a.logger != nil {
		a.logger.Log(level, msg, fields)
	}
}
