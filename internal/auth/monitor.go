package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/event"
	"github.com/sjtu-chatbot/campusd/internal/logging"
)

// stopGrace bounds how long Stop waits for the monitor goroutine after an
// in-flight cycle has been asked to finish.
const stopGrace = 30 * time.Second

// Monitor periodically probes the portal and, on a valid-to-expired
// transition, invalidates the held session and invokes the renewal
// callback exactly once. Invalidation itself is the latch: while no
// session is held there is nothing to expire, so the callback cannot fire
// again until a renewal installs a new session that later lapses.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newMonitor(m *Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		manager:  m,
		interval: interval,
		log:      logging.Component("auth.monitor"),
	}
}

// Start launches the monitor goroutine. No-op if already running.
func (mon *Monitor) Start(onExpired func()) {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	if mon.running {
		mon.log.Debug().Msg("session monitor already running")
		return
	}

	mon.running = true
	mon.stopCh = make(chan struct{})
	mon.doneCh = make(chan struct{})

	go mon.run(mon.stopCh, mon.doneCh, onExpired)
	mon.log.Info().Dur("interval", mon.interval).Msg("session monitor started")
}

// Stop interrupts the wait between probes and joins the monitor
// goroutine. A probe or renewal already in flight is allowed to finish or
// fail first. Safe to call when not running and during teardown.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	if !mon.running {
		mon.mu.Unlock()
		return
	}
	stopCh, doneCh := mon.stopCh, mon.doneCh
	mon.running = false
	mon.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(stopGrace):
		mon.log.Warn().Msg("session monitor did not stop within grace period")
	}
	mon.log.Info().Msg("session monitor stopped")
}

func (mon *Monitor) run(stopCh <-chan struct{}, doneCh chan<- struct{}, onExpired func()) {
	defer close(doneCh)

	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			mon.cycle(onExpired)
		}
	}
}

// cycle performs one probe. Probe errors are logged and skipped: a
// network blip is not an expiry.
func (mon *Monitor) cycle(onExpired func()) {
	snap, err := mon.manager.Snapshot()
	if err != nil {
		return
	}

	// The held session's own cookies are probed, not the live jar: a
	// renewal clearing the jar mid-attempt must not read as an expiry.
	ctx, cancel := context.WithTimeout(context.Background(), mon.manager.cfg.Portal.Timeout.Std())
	alive, err := mon.manager.client.ProbeSession(ctx, snap)
	cancel()

	if err != nil {
		mon.log.Warn().Err(err).Msg("session probe failed, will retry next cycle")
		return
	}
	if alive {
		return
	}

	// The expiry belongs to the probed session. If a renewal replaced it
	// while the probe was in flight, the new session is not the one that
	// lapsed.
	if cur, err := mon.manager.Snapshot(); err != nil || !cur.EstablishedAt.Equal(snap.EstablishedAt) {
		return
	}

	mon.log.Warn().Msg("session expired")

	username := snap.Username
	mon.manager.Invalidate()

	event.Publish(event.Event{
		Type: event.SessionExpired,
		Data: event.SessionData{Username: username, Reason: "probe rejected"},
	})

	if onExpired == nil {
		return
	}

	// The callback runs inside the cycle so Stop drains it. Its failures
	// stay contained and never reach the hosting process.
	func() {
		defer func() {
			if r := recover(); r != nil {
				mon.log.Error().Any("panic", r).Msg("renewal callback panicked")
			}
		}()
		onExpired()
	}()
}
