package plugindomain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Action is a named operation a music-source plugin may implement.
type Action string

const (
	ActionSearch            Action = "search"
	ActionGetMediaSource    Action = "getMediaSource"
	ActionGetLyric          Action = "getLyric"
	ActionGetMusicInfo      Action = "getMusicInfo"
	ActionGetAlbumInfo      Action = "getAlbumInfo"
	ActionGetMusicSheetInfo Action = "getMusicSheetInfo"
	ActionGetArtistWorks    Action = "getArtistWorks"
	ActionImportMusicItem   Action = "importMusicItem"
	ActionImportMusicSheet  Action = "importMusicSheet"
	ActionGetTopLists       Action = "getTopLists"
	ActionGetTopListDetail  Action = "getTopListDetail"
)

// Shape is the result contract of an action.
type Shape int

const (
	// ShapeObject results are an object or null.
	ShapeObject Shape = iota
	// ShapeList results are normalized to {isEnd, data}.
	ShapeList
	// ShapeArray results are a bare array; null becomes [].
	ShapeArray
)

// Capability is a bitset of supported actions, computed once at load.
type Capability uint16

type actionSpec struct {
	bit    Capability
	shape  Shape
	params []string
}

var actionSpecs = map[Action]actionSpec{
	ActionSearch:            {bit: 1 << 0, shape: ShapeList, params: []string{"query", "page", "type"}},
	ActionGetMediaSource:    {bit: 1 << 1, shape: ShapeObject, params: []string{"item", "quality"}},
	ActionGetLyric:          {bit: 1 << 2, shape: ShapeObject, params: []string{"item"}},
	ActionGetMusicInfo:      {bit: 1 << 3, shape: ShapeObject, params: []string{"item"}},
	ActionGetAlbumInfo:      {bit: 1 << 4, shape: ShapeList, params: []string{"item", "page"}},
	ActionGetMusicSheetInfo: {bit: 1 << 5, shape: ShapeList, params: []string{"item", "page"}},
	ActionGetArtistWorks:    {bit: 1 << 6, shape: ShapeList, params: []string{"item", "page", "type"}},
	ActionImportMusicItem:   {bit: 1 << 7, shape: ShapeObject, params: []string{"urlLike"}},
	ActionImportMusicSheet:  {bit: 1 << 8, shape: ShapeArray, params: []string{"urlLike"}},
	ActionGetTopLists:       {bit: 1 << 9, shape: ShapeArray, params: nil},
	ActionGetTopListDetail:  {bit: 1 << 10, shape: ShapeList, params: []string{"item", "page"}},
}

// ParseAction resolves a wire action name.
func ParseAction(name string) (Action, error) {
	a := Action(name)
	if _, ok := actionSpecs[a]; !ok {
		return "", fmt.Errorf("unknown action %q", name)
	}
	return a, nil
}

// AllActions returns every plugin action in bit order.
func AllActions() []Action {
	actions := make([]Action, 0, len(actionSpecs))
	for a := range actionSpecs {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		return actionSpecs[actions[i]].bit < actionSpecs[actions[j]].bit
	})
	return actions
}

// Shape returns the result contract of the action.
func (a Action) Shape() Shape {
	return actionSpecs[a].shape
}

// Params lists the request fields passed positionally to the plugin function.
func (a Action) Params() []string {
	return append([]string(nil), actionSpecs[a].params...)
}

// NoopResult is what an unsupported action resolves to.
func (a Action) NoopResult() json.RawMessage {
	switch a.Shape() {
	case ShapeList:
		return json.RawMessage(`{"isEnd":true,"data":[]}`)
	case ShapeArray:
		return json.RawMessage(`[]`)
	default:
		return json.RawMessage(`null`)
	}
}

// CapabilitiesOf builds a set from action names, ignoring unknown ones.
func CapabilitiesOf(actions ...Action) Capability {
	var c Capability
	for _, a := range actions {
		c = c.With(a)
	}
	return c
}

// Has reports whether the set contains action.
func (c Capability) Has(action Action) bool {
	spec, ok := actionSpecs[action]
	return ok && c&spec.bit != 0
}

// With returns the set with action added.
func (c Capability) With(action Action) Capability {
	if spec, ok := actionSpecs[action]; ok {
		return c | spec.bit
	}
	return c
}

// Actions lists the members in bit order.
func (c Capability) Actions() []Action {
	var out []Action
	for _, a := range AllActions() {
		if c.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (c Capability) String() string {
	actions := c.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as a list of action names.
func (c Capability) MarshalJSON() ([]byte, error) {
	actions := c.Actions()
	if actions == nil {
		actions = []Action{}
	}
	return json.Marshal(actions)
}

// UnmarshalJSON decodes a list of action names; unknown names are dropped.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var names []Action
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("capabilities must be a list of action names: %w", err)
	}
	*c = CapabilitiesOf(names...)
	return nil
}
