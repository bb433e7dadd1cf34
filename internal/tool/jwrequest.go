package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const defaultJwBaseURL = "https://jw.sjtu.edu.cn"

// maxJwBody caps how much of an academic system response is read.
const maxJwBody = 4 << 20

// JwRequestTool is the generic authenticated GET against the academic
// system. The caller supplies the relative API path.
type JwRequestTool struct {
	baseURL string
}

// NewJwRequestTool creates the sjtu_jw_request tool.
func NewJwRequestTool() *JwRequestTool {
	return &JwRequestTool{baseURL: defaultJwBaseURL}
}

func (t *JwRequestTool) Name() string { return "sjtu_jw_request" }

func (t *JwRequestTool) Description() string {
	return "Performs an authenticated request against the academic information system at the given relative path and returns the response."
}

func (t *JwRequestTool) RequiresLogin() bool { return true }

func (t *JwRequestTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Relative path of the academic system endpoint, e.g. /api/student/lesson"
			}
		},
		"required": ["path"]
	}`)
}

type jwRequestArgs struct {
	Path string `json:"path"`
}

func (t *JwRequestTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	var params jwRequestArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid arguments: %v", err), nil
	}
	if params.Path == "" {
		return Errorf("path is required"), nil
	}

	url := strings.TrimSuffix(t.baseURL, "/") + "/" + strings.TrimPrefix(params.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Errorf("invalid path: %v", err), nil
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := tc.HTTPClient().Do(req)
	if err != nil {
		return Errorf("failed to reach the academic system: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Errorf("academic system returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJwBody))
	if err != nil {
		return Errorf("failed to read response: %v", err), nil
	}

	// JSON responses come back re-indented, anything else verbatim.
	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			return Ok(buf.String()), nil
		}
	}
	return Ok(string(body)), nil
}
