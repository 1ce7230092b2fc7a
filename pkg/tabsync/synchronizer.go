package tabsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
)

// Handler receives events from other tabs.
type Handler func(Event)

// Synchronizer is one tab's end of the cross-tab channel. The channel is
// opened on construction and stays open until Close.
type Synchronizer struct {
	tabID  idx.ID
	port   Port
	logger *slog.Logger

	mu      sync.RWMutex
	handler Handler

	closeOnce sync.Once
	closeErr  error
}

// New joins channel on bus for the tab identified by tabID. A nil bus, or a
// bus that cannot be joined, leaves the tab without cross-tab messaging:
// broadcasts become no-ops and nothing is received.
func New(bus Bus, channel string, tabID idx.ID, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		tabID:  tabID,
		logger: slogx.OrDiscard(logger).With("tab_id", tabID.String(), "channel", channel),
	}
	if bus == nil {
		bus = Nop
	}

	port, err := bus.Join(channel, s.deliver)
	if err != nil {
		s.logger.Warn("cross-tab channel unavailable, continuing without it", "error", err)
		port = nopPort{}
	}
	s.port = port
	return s
}

// TabID returns the id stamped on this tab's broadcasts.
func (s *Synchronizer) TabID() idx.ID { return s.tabID }

// Broadcast posts ev to every other tab. The event gets a fresh ID and this
// tab as its origin.
func (s *Synchronizer) Broadcast(ctx context.Context, ev Event) error {
	ev.ID = idx.NewEvent()
	ev.Origin = s.tabID

	if err := s.port.Post(ev); err != nil {
		return err
	}

	slogx.FromContext(ctx).Debug("cross-tab event broadcast", "kind", ev.Kind, "event_id", ev.ID.String())
	return nil
}

// OnEvent installs the single handler for inbound events, replacing any
// previous one. Events that arrive while no handler is set are dropped.
func (s *Synchronizer) OnEvent(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Close releases the channel handle. Safe to call more than once.
func (s *Synchronizer) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func (s *Synchronizer) deliver(ev Event) {
	// Buses that echo (sockbus brokers fan out by connection, not by tab)
	// can hand us our own events.
	if ev.Origin == s.tabID {
		return
	}
	if !ev.Valid() {
		s.logger.Warn("dropping malformed cross-tab event", "kind", ev.Kind, "origin", ev.Origin.String())
		return
	}

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()

	if h == nil {
		s.logger.Debug("no handler for cross-tab event", "kind", ev.Kind)
		return
	}

	s.logger.Debug("cross-tab event received",
		"kind", ev.Kind, "event_id", ev.ID.String(), "age", time.Since(ev.ID.Time()))
	h(ev)
}
