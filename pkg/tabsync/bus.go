package tabsync

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("tabsync: channel closed")

// Bus is a same-origin publish/subscribe transport.
type Bus interface {
	// Join opens a handle on the named channel. deliver is called, one event
	// at a time and off the caller's goroutine, for every event posted by
	// other handles on the same channel.
	Join(channel string, deliver func(Event)) (Port, error)
}

// Port is one open handle on a channel.
type Port interface {
	Post(ev Event) error
	Close() error
}

// Nop is the Bus used where no cross-tab channel exists.
var Nop Bus = nopBus{}

type nopBus struct{}

func (nopBus) Join(string, func(Event)) (Port, error) { return nopPort{}, nil }

type nopPort struct{}

func (nopPort) Post(Event) error { return nil }
func (nopPort) Close() error     { return nil }

// Hub is an in-process Bus. Every Join is a separate tab; a posted event is
// queued for every other port on the channel and never for the poster.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*hubPort]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubPort]struct{})}
}

func (h *Hub) Join(channel string, deliver func(Event)) (Port, error) {
	p := &hubPort{
		hub:     h,
		channel: channel,
		mailbox: newMailbox(deliver),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*hubPort]struct{})
	}
	h.channels[channel][p] = struct{}{}
	return p, nil
}

// Members reports how many ports are open on channel.
func (h *Hub) Members(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) post(from *hubPort, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for p := range h.channels[from.channel] {
		if p != from {
			p.mailbox.push(ev)
		}
	}
}

func (h *Hub) leave(p *hubPort) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[p.channel]
	delete(members, p)
	if len(members) == 0 {
		delete(h.channels, p.channel)
	}
}

type hubPort struct {
	hub     *Hub
	channel string
	mailbox *mailbox

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func (p *hubPort) Post(ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.hub.post(p, ev)
	return nil
}

func (p *hubPort) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.hub.leave(p)
		p.mailbox.close()
	})
	return nil
}

// mailbox is an unbounded FIFO drained by one goroutine, so a slow tab never
// blocks the poster and events arrive in post order.
type mailbox struct {
	deliver func(Event)

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	stop    chan struct{}
}

func newMailbox(deliver func(Event)) *mailbox {
	m := &mailbox{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	m.pending = append(m.pending, ev)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		}

		for {
			select {
			case <-m.stop:
				return
			default:
			}

			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			ev := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()

			m.deliver(ev)
		}
	}
}

// close stops delivery. A deliver already running is allowed to finish, so
// close is safe to call from inside deliver.
func (m *mailbox) close() {
	close(m.stop)
}
