// Package ranking scores aggregated search results against a query.
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Match scores.
const (
	ArtistExact     = 1000
	ArtistPrefix    = 800
	ArtistSubstring = 600
	TitleExact      = 400
	TitlePrefix     = 300
	TitleSubstring  = 200
)

// WeightedPlatforms is how many leading enabled plugins earn a weight.
const WeightedPlatforms = 9

// DirectSourcePrefix marks items from the direct source, which outrank
// every plugin with DirectSourceWeight.
const (
	DirectSourcePrefix = "OpenAPI-"
	DirectSourceWeight = 20
)

// Query is what results are matched against.
type Query struct {
	Keyword string
	Artist  string
}

// Weights maps a platform to its weight.
type Weights map[string]int

// PlatformWeights assigns max(0, 10-position) to the first nine plugins of
// the priority order, position counting from 1.
func PlatformWeights(order []string) Weights {
	w := make(Weights, len(order))
	for i, name := range order {
		if i >= WeightedPlatforms {
			break
		}
		if _, dup := w[name]; dup {
			continue
		}
		w[name] = 10 - (i + 1)
	}
	return w
}

// Of returns the weight for platform.
func (w Weights) Of(platform string) int {
	if strings.HasPrefix(platform, DirectSourcePrefix) {
		return DirectSourceWeight
	}
	return w[platform]
}

// Ranked is one scored item.
type Ranked struct {
	Item        map[string]interface{} `json:"item"`
	Platform    string                 `json:"platform"`
	Score       int                    `json:"score"`
	ArtistScore int                    `json:"artistScore"`
	TitleScore  int                    `json:"titleScore"`
	Weight      int                    `json:"weight"`
}

// Fold normalizes text for matching: NFKC compatibility-composed, width
// folded, case folded, trimmed.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return strings.TrimSpace(cases.Fold().String(s))
}

func match(needle, haystack string, exact, prefix, substring int) int {
	switch {
	case needle == "" || haystack == "":
		return 0
	case haystack == needle:
		return exact
	case strings.HasPrefix(haystack, needle):
		return prefix
	case strings.Contains(haystack, needle):
		return substring
	default:
		return 0
	}
}

// Score rates one item. An empty keyword or artist contributes nothing.
func Score(q Query, title, artist string) (artistScore, titleScore int) {
	artistScore = match(Fold(q.Artist), Fold(artist), ArtistExact, ArtistPrefix, ArtistSubstring)
	titleScore = match(Fold(q.Keyword), Fold(title), TitleExact, TitlePrefix, TitleSubstring)
	return artistScore, titleScore
}

// Rank scores items and sorts them by score, then weight, keeping input
// order for full ties.
func Rank(q Query, items []map[string]interface{}, weights Weights) []Ranked {
	ranked := make([]Ranked, len(items))
	for i, item := range items {
		platform := stringField(item, "platform")
		a, t := Score(q, Title(item), Artist(item))
		w := weights.Of(platform)
		ranked[i] = Ranked{
			Item:        item,
			Platform:    platform,
			Score:       a + t + w,
			ArtistScore: a,
			TitleScore:  t,
			Weight:      w,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Weight > ranked[j].Weight
	})
	return ranked
}

// Title reads an item's title, falling back to name.
func Title(item map[string]interface{}) string {
	if t := stringField(item, "title"); t != "" {
		return t
	}
	return stringField(item, "name")
}

var artistKeys = []string{"artist", "artists", "singer", "author", "creator", "singers"}

// Artist reads an item's artist from the first populated artist-like key.
// Lists of strings or of {name} objects are joined with ", ".
func Artist(item map[string]interface{}) string {
	for _, key := range artistKeys {
		if a := artistValue(item[key]); a != "" {
			return a
		}
	}
	return ""
}

func artistValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		var names []string
		for _, e := range t {
			switch n := e.(type) {
			case string:
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			case map[string]interface{}:
				if name := stringField(n, "name"); name != "" {
					names = append(names, name)
				}
			}
		}
		return strings.Join(names, ", ")
	case map[string]interface{}:
		return stringField(t, "name")
	default:
		return ""
	}
}

func stringField(item map[string]interface{}, key string) string {
	switch v := item[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, int, int64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// ID reads an item's id as text.
func ID(item map[string]interface{}) string {
	id := stringField(item, "id")
	if id == "" {
		id = stringField(item, "songmid")
	}
	return id
}
