package plugindomain

import (
	"encoding/json"
	"strconv"
)

// Defaults applied to omitted action arguments.
const (
	DefaultPage    = 1
	DefaultType    = "music"
	DefaultQuality = "standard"
)

// Args carries every named argument a plugin action can take. Each action
// picks the ones it needs, in order, via Positional.
type Args struct {
	Query   string          `json:"query,omitempty"`
	Page    int             `json:"page,omitempty"`
	Type    string          `json:"type,omitempty"`
	Item    json.RawMessage `json:"item,omitempty"`
	Quality string          `json:"quality,omitempty"`
	URLLike string          `json:"urlLike,omitempty"`
}

// WithDefaults fills omitted page, type and quality.
func (a Args) WithDefaults() Args {
	if a.Page <= 0 {
		a.Page = DefaultPage
	}
	if a.Type == "" {
		a.Type = DefaultType
	}
	if a.Quality == "" {
		a.Quality = DefaultQuality
	}
	return a
}

// Positional returns the JSON-encoded arguments for action in call order.
func (a Args) Positional(action Action) []json.RawMessage {
	a = a.WithDefaults()
	params := actionSpecs[action].params
	out := make([]json.RawMessage, len(params))
	for i, p := range params {
		switch p {
		case "query":
			out[i] = quote(a.Query)
		case "page":
			out[i] = json.RawMessage(strconv.Itoa(a.Page))
		case "type":
			out[i] = quote(a.Type)
		case "item":
			if len(a.Item) == 0 {
				out[i] = json.RawMessage("null")
			} else {
				out[i] = a.Item
			}
		case "quality":
			out[i] = quote(a.Quality)
		case "urlLike":
			out[i] = quote(a.URLLike)
		}
	}
	return out
}

func quote(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
