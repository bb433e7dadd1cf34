package event

// SessionData is the data for session lifecycle events.
type SessionData struct {
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ToolInvokedData is the data for tool.invoked events.
type ToolInvokedData struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
