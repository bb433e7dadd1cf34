package tool

// Builtin returns the tool set shipped with the server. Registration is
// this one explicit list; there is no scanning.
func Builtin() []Tool {
	return []Tool{
		NewNewsTool(),
		NewJwcNewsTool(),
		NewMailTool(),
		NewJwRequestTool(),
		NewActivityTool(),
		NewAccountTool(),
	}
}

// BuildDefault builds the registry holding the built-in tools.
func BuildDefault() (*Registry, error) {
	return Build(Builtin()...)
}
