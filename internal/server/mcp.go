package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const maxRequestBody = 1 << 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// notification reports whether the message carries no id.
func (r *rpcRequest) notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func resultResponse(id json.RawMessage, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *rpcResponse {
	if len(id) == 0 {
		id = json.RawMessage(`"server-error"`)
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// handleMCPPost implements the POST side of MCP streamable HTTP: one
// JSON-RPC message in, one response out, as JSON or a short SSE stream
// depending on what the client accepts.
func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	acceptsJSON := strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*")
	acceptsSSE := strings.Contains(accept, "text/event-stream")
	if !acceptsJSON && !acceptsSSE {
		writeJSON(w, http.StatusNotAcceptable, errorResponse(nil, codeInvalidRequest,
			"Not Acceptable: client must accept application/json or text/event-stream"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, codeParseError, "empty request body"))
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, codeParseError, "parse error: "+err.Error()))
		return
	}

	resp, sessionID := s.dispatch(r, &req)
	if resp == nil {
		// Notifications get acknowledged without a body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}

	// JSON wins when the client accepts both; SSE only for stream-only
	// clients.
	if acceptsJSON {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeSSEResponse(w, resp)
}

// handleMCPGet serves the server-push channel: a keepalive SSE stream.
func (s *Server) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse(nil, codeMethodNotFound,
			"Method Not Allowed: GET requires Accept: text/event-stream"))
		return
	}
	s.serveKeepalive(w, r)
}

// dispatch routes one JSON-RPC message. A nil response means the message
// was a notification. The returned session id, when non-empty, is echoed
// in the Mcp-Session-Id header.
func (s *Server) dispatch(r *http.Request, req *rpcRequest) (*rpcResponse, string) {
	switch req.Method {
	case "initialize":
		if req.notification() {
			return nil, ""
		}
		return s.handleInitialize(req)

	case "tools/list":
		if req.notification() {
			return nil, ""
		}
		return s.handleToolsList(r, req), ""

	case "tools/call":
		if req.notification() {
			return nil, ""
		}
		return s.handleToolsCall(r, req), ""

	default:
		if req.notification() || strings.HasPrefix(req.Method, "notifications/") {
			s.log.Debug().Str("method", req.Method).Msg("notification accepted")
			return nil, ""
		}
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method), ""
	}
}

func (s *Server) handleInitialize(req *rpcRequest) (*rpcResponse, string) {
	id := newSessionID()
	s.registerSession(id)
	s.log.Info().Str("session", id).Msg("mcp session initialized")

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	}), id
}

// toolDescriptor is a tool entry in the tools/list result.
type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (s *Server) handleToolsList(r *http.Request, req *rpcRequest) *rpcResponse {
	if !s.knownSession(r.Header.Get("Mcp-Session-Id")) {
		return errorResponse(req.ID, codeInvalidRequest, "invalid session id")
	}

	tools := s.dispatcher.Registry().List()
	descriptors := make([]toolDescriptor, 0, len(tools))
	for _, t := range tools {
		descriptors = append(descriptors, toolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}

	return resultResponse(req.ID, map[string]any{"tools": descriptors})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// contentItem is one entry in a tools/call result content list.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) handleToolsCall(r *http.Request, req *rpcRequest) *rpcResponse {
	if !s.knownSession(r.Header.Get("Mcp-Session-Id")) {
		return errorResponse(req.ID, codeInvalidRequest, "invalid session id")
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	if params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "tool name is required")
	}

	result := s.dispatcher.Invoke(r.Context(), params.Name, params.Arguments)

	// Tool failures ride a successful JSON-RPC response; protocol errors
	// are the only thing reported through the error member.
	text := result.Data
	if !result.Success {
		text = result.Error
	}
	return resultResponse(req.ID, map[string]any{
		"content": []contentItem{{Type: "text", Text: text}},
		"isError": !result.Success,
	})
}

func newSessionID() string {
	return ulid.Make().String()
}
