package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sjtu-chatbot/campusd/internal/event"
)

// keepaliveInterval is how often the GET /mcp stream pings.
const keepaliveInterval = 30 * time.Second

// sseWriter wraps a ResponseWriter for event-stream output.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeEvent(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeSSEResponse streams one JSON-RPC response as a short SSE stream,
// for clients that only accept text/event-stream.
func (s *Server) writeSSEResponse(w http.ResponseWriter, resp *rpcResponse) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(nil, codeInternalError, err.Error()))
		return
	}

	if err := sse.writeEvent("message", resp); err != nil {
		s.log.Warn().Err(err).Msg("failed to write sse response")
		return
	}
	sse.writeEvent("done", struct{}{})
}

// serveKeepalive holds the connection open with periodic pings until the
// client goes away.
func (s *Server) serveKeepalive(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(nil, codeInternalError, err.Error()))
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	sse.writeEvent("ping", struct{}{})
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.writeEvent("ping", struct{}{}); err != nil {
				return
			}
		}
	}
}

// handleEvents streams the internal event bus to the client. Debug
// surface for watching session and tool activity.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(nil, codeInternalError, err.Error()))
		return
	}

	events := make(chan event.Event, 32)
	unsubscribe := event.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			// Slow consumer; dropping beats blocking the bus.
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	sse.writeEvent("ready", struct{}{})
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(string(e.Type), e.Data); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeEvent("ping", struct{}{}); err != nil {
				return
			}
		}
	}
}
