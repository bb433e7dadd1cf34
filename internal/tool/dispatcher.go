package tool

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/event"
	"github.com/sjtu-chatbot/campusd/internal/logging"
	"github.com/sjtu-chatbot/campusd/internal/portal"
)

// SessionSource supplies the dispatcher with the current login state. The
// auth manager implements it.
type SessionSource interface {
	IsLoggedIn() bool
	Snapshot() (*portal.Session, error)
}

// Dispatcher routes invocations to registered tools. It enforces the
// login requirement, contains tool panics, and publishes an event per
// invocation. Every outcome is a structured Result; the transports never
// see a raw error from a tool.
type Dispatcher struct {
	registry *Registry
	sessions SessionSource
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given registry and session
// source.
func NewDispatcher(registry *Registry, sessions SessionSource) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		log:      logging.Component("tool"),
	}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Invoke runs the named tool. Unknown names and unmet login requirements
// produce structured failures without reaching any tool code.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) *Result {
	t, ok := d.registry.Get(name)
	if !ok {
		return d.finish(name, Errorf("unknown tool %q", name))
	}

	var session *portal.Session
	if t.RequiresLogin() {
		snap, err := d.sessions.Snapshot()
		if err != nil {
			return d.finish(name, Errorf("not logged in; tool %q needs an authenticated session", name))
		}
		session = snap
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	result := d.run(ctx, t, session, args)
	return d.finish(name, result)
}

// run executes the tool with panic containment. A panicking tool fails
// its own invocation only.
func (d *Dispatcher) run(ctx context.Context, t Tool, session *portal.Session, args json.RawMessage) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", t.Name()).Any("panic", r).Msg("tool panicked")
			result = Errorf("tool %q panicked: %v", t.Name(), r)
		}
	}()

	tc := NewContext(session, clientFor(session))

	res, err := t.Run(ctx, tc, args)
	if err != nil {
		d.log.Warn().Str("tool", t.Name()).Err(err).Msg("tool failed")
		return Errorf("tool %q failed: %v", t.Name(), err)
	}
	if res == nil {
		return Errorf("tool %q returned no result", t.Name())
	}
	return res
}

// clientFor builds the per-invocation HTTP client. Authenticated calls
// replay the snapshot's cookies; anonymous calls get a bare client.
func clientFor(session *portal.Session) *http.Client {
	client := &http.Client{Timeout: toolRequestTimeout}
	if session != nil {
		client.Transport = &sessionTransport{cookie: session.AuthCookieHeader()}
	}
	return client
}

func (d *Dispatcher) finish(name string, result *Result) *Result {
	event.Publish(event.Event{
		Type: event.ToolInvoked,
		Data: event.ToolInvokedData{Tool: name, Success: result.Success, Error: result.Error},
	})
	return result
}
