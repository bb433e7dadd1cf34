package tool

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateTool is returned by Build when two tools claim one name.
var ErrDuplicateTool = errors.New("duplicate tool name")

// Registry holds the tool set. It is built once at startup from an
// explicit list and is immutable afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]Tool
	names []string
}

// Build constructs a registry from the given tools. A duplicate name is a
// startup error, not a silent overwrite.
func Build(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, name)
		}
		r.tools[name] = t
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	tools := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
