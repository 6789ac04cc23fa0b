package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
	plugindomain "songhost.dev/cli/internal/core/domain/plugin"
)

// UnknownID answers frames whose id could not be recovered.
const UnknownID = "unknown"

// Control actions understood by the host besides plugin actions.
const (
	ActionLoad        = "load"
	ActionUnload      = "unload"
	ActionPing        = "ping"
	ActionFetchResult = "fetchResult"
)

// Request is a frame sent from the parent to the host.
type Request struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Target     string `json:"target,omitempty"`
	PluginName string `json:"pluginName,omitempty"`

	// load
	Code    string `json:"code,omitempty"`
	Runtime string `json:"runtime,omitempty"`

	plugindomain.Args

	// fetchResult
	Response *httpdomain.FetchResponse `json:"response,omitempty"`
	Error    *plugindomain.Failure     `json:"error,omitempty"`
}

// Plugin returns the addressed plugin, accepting either naming.
func (r Request) Plugin() string {
	if r.Target != "" {
		return r.Target
	}
	return r.PluginName
}

// Response is the single reply the host produces for a Request.
type Response struct {
	ID      string                `json:"id"`
	Success bool                  `json:"success"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *plugindomain.Failure `json:"error,omitempty"`
}

// FetchFrame asks the parent to perform a network call for a sandbox.
type FetchFrame struct {
	ID    string                   `json:"id"`
	Fetch *httpdomain.FetchRequest `json:"fetch"`
}

// HostFrame is the union of frames the parent may read from the host.
type HostFrame struct {
	ID      string                   `json:"id"`
	Success bool                     `json:"success"`
	Result  json.RawMessage          `json:"result,omitempty"`
	Error   *plugindomain.Failure    `json:"error,omitempty"`
	Fetch   *httpdomain.FetchRequest `json:"fetch,omitempty"`
}

// IsFetch reports whether the frame is a nested network request.
func (f HostFrame) IsFetch() bool {
	return f.Fetch != nil
}

// NewSuccess builds a successful response. A nil result encodes as null.
func NewSuccess(id string, result json.RawMessage) Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return Response{ID: id, Success: true, Result: result}
}

// NewFailureResponse builds a failed response.
func NewFailureResponse(id string, failure *plugindomain.Failure) Response {
	return Response{ID: id, Success: false, Error: failure}
}

// NewRequestID returns a fresh parent request id.
func NewRequestID() string {
	return uuid.NewString()
}

// NewFetchID returns a fresh id for a nested network request. The prefix
// keeps it disjoint from parent request ids.
func NewFetchID() string {
	return "fetch-" + uuid.NewString()
}

// ParseRequest decodes one inbound line. On failure the returned request
// carries the best-effort id so the caller can still answer it.
func ParseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{ID: RecoverID(line)}, plugindomain.NewFailure(
			plugindomain.KindProtocolParseError, "", "", "invalid JSON frame: %v", err)
	}
	if req.ID == "" {
		req.ID = UnknownID
		return req, plugindomain.NewFailure(plugindomain.KindProtocolParseError, req.Plugin(), req.Action, "missing request id")
	}
	if req.Action == "" {
		return req, plugindomain.NewFailure(plugindomain.KindProtocolParseError, req.Plugin(), "", "missing action")
	}
	return req, nil
}

// ParseHostFrame decodes one outbound line on the parent side.
func ParseHostFrame(line []byte) (HostFrame, error) {
	var frame HostFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return HostFrame{ID: RecoverID(line)}, fmt.Errorf("%w: %v", plugindomain.ErrProtocolParse, err)
	}
	if frame.ID == "" {
		return frame, fmt.Errorf("%w: frame without id", plugindomain.ErrProtocolParse)
	}
	return frame, nil
}

// RecoverID extracts the id from a possibly malformed frame.
func RecoverID(line []byte) string {
	id := gjson.GetBytes(line, "id")
	switch id.Type {
	case gjson.String:
		if id.Str != "" {
			return id.Str
		}
	case gjson.Number:
		return id.Raw
	}
	return UnknownID
}
