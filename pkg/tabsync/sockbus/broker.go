// Package sockbus carries cross-tab events between processes over a stream
// socket (unix or tcp). One Broker per origin accepts tab connections; each
// tab joins a channel and the broker fans its events out to every other
// connection on that channel.
package sockbus

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
)

// DefaultWriteTimeout bounds how long a slow tab may stall a fan-out.
const DefaultWriteTimeout = 5 * time.Second

// RateLimit bounds how many events a single tab may publish.
type RateLimit struct {
	// EventsPerWindow is the number of events allowed in the window
	EventsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// DefaultPeerLimit is generous: a healthy tab only publishes on refresh and
// logout.
var DefaultPeerLimit = RateLimit{
	EventsPerWindow: 600,
	Window:          time.Minute,
	Burst:           100,
}

func (l RateLimit) limiter() *rate.Limiter {
	if l.EventsPerWindow <= 0 || l.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(l.Window/time.Duration(l.EventsPerWindow)), max(l.Burst, 1))
}

var errNotJoined = errors.New("sockbus: first frame must be a join")

type Broker struct {
	ln           net.Listener
	logger       *slog.Logger
	writeTimeout time.Duration
	peerLimit    RateLimit

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen opens a broker on network/address, e.g. ("unix", "/run/app/tabs.sock").
func Listen(network, address string, logger *slog.Logger) (*Broker, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("sockbus: listen: %w", err)
	}
	return NewBroker(ln, logger), nil
}

// NewBroker serves on an existing listener.
func NewBroker(ln net.Listener, logger *slog.Logger) *Broker {
	return &Broker{
		ln:           ln,
		logger:       slogx.OrDiscard(logger),
		writeTimeout: DefaultWriteTimeout,
		peerLimit:    DefaultPeerLimit,
		peers:        make(map[*peer]struct{}),
	}
}

func (b *Broker) Addr() net.Addr { return b.ln.Addr() }

// SetPeerLimit replaces the per-tab publish limit. A zero EventsPerWindow
// disables limiting. Call before Serve.
func (b *Broker) SetPeerLimit(l RateLimit) { b.peerLimit = l }

// Serve accepts connections until Close. It returns nil after Close and the
// accept error otherwise.
func (b *Broker) Serve() error {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("sockbus: accept: %w", err)
		}

		p := &peer{conn: conn, enc: newEncoder(conn), limiter: b.peerLimit.limiter()}
		if !b.add(p) {
			_ = conn.Close()
			return nil
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handle(p)
		}()
	}
}

// Close stops accepting, drops every connection and waits for their
// handlers to finish.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	peers := make([]*peer, 0, len(b.peers))
	for p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.Unlock()

	err := b.ln.Close()
	for _, p := range peers {
		_ = p.conn.Close()
	}
	b.wg.Wait()
	return err
}

// Peers reports how many tabs have joined channel.
func (b *Broker) Peers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for p := range b.peers {
		if p.channel == channel {
			n++
		}
	}
	return n
}

func (b *Broker) add(p *peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.peers[p] = struct{}{}
	return true
}

func (b *Broker) remove(p *peer) {
	b.mu.Lock()
	delete(b.peers, p)
	b.mu.Unlock()
	_ = p.conn.Close()
}

func (b *Broker) handle(p *peer) {
	defer b.remove(p)

	logger := b.logger.With("remote_addr", p.conn.RemoteAddr().String())
	dec := newDecoder(p.conn)

	var join frame
	if err := dec.Decode(&join); err != nil || join.Type != frameJoin || join.Channel == "" {
		logger.Warn("rejecting tab connection", "error", errNotJoined)
		return
	}

	b.mu.Lock()
	p.channel = join.Channel
	b.mu.Unlock()
	logger = logger.With("channel", join.Channel)
	logger.Debug("tab joined")

	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			logger.Debug("tab left", "error", err)
			return
		}
		if f.Type != frameEvent || f.Event == nil {
			continue
		}
		if !p.limiter.Allow() {
			logger.Warn("tab exceeded event rate, dropping event", "kind", f.Event.Kind)
			continue
		}
		b.fanout(p, f)
	}
}

func (b *Broker) fanout(from *peer, f frame) {
	b.mu.Lock()
	targets := make([]*peer, 0, len(b.peers))
	for p := range b.peers {
		if p != from && p.channel == from.channel {
			targets = append(targets, p)
		}
	}
	b.mu.Unlock()

	for _, p := range targets {
		if err := p.send(f, b.writeTimeout); err != nil {
			b.logger.Warn("dropping unresponsive tab", "remote_addr", p.conn.RemoteAddr().String(), "error", err)
			_ = p.conn.Close()
		}
	}
}

type peer struct {
	conn    net.Conn
	channel string // guarded by Broker.mu
	limiter *rate.Limiter

	mu  sync.Mutex
	enc *cbor.Encoder
}

func (p *peer) send(f frame, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return p.enc.Encode(f)
}
