package sockbus

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

// DefaultDialTimeout bounds connecting to the broker.
const DefaultDialTimeout = 2 * time.Second

// Bus is the tab side of a sockbus. It implements tabsync.Bus.
type Bus struct {
	Network string
	Address string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

var _ tabsync.Bus = (*Bus)(nil)

// Join connects to the broker and subscribes to channel. Events are
// delivered on a goroutine owned by the returned port.
func (b *Bus) Join(channel string, deliver func(tabsync.Event)) (tabsync.Port, error) {
	dialTimeout := b.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	writeTimeout := b.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	conn, err := net.DialTimeout(b.Network, b.Address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("sockbus: dial %s %s: %w", b.Network, b.Address, err)
	}

	p := &port{
		conn:         conn,
		enc:          newEncoder(conn),
		writeTimeout: writeTimeout,
		logger:       slogx.OrDiscard(b.Logger).With("channel", channel),
	}
	if err := p.write(frame{Type: frameJoin, Channel: channel}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sockbus: join %q: %w", channel, err)
	}

	go p.read(deliver)
	return p, nil
}

type port struct {
	conn         net.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	enc    *cbor.Encoder
	closed bool
}

func (p *port) Post(ev tabsync.Event) error {
	return p.write(frame{Type: frameEvent, Event: &ev})
}

func (p *port) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return tabsync.ErrClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.enc.Encode(f)
}

// Close drops the connection; the read loop exits on its own.
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

func (p *port) read(deliver func(tabsync.Event)) {
	dec := newDecoder(p.conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.logger.Warn("lost connection to tab broker", "error", err)
			}
			return
		}
		if f.Type == frameEvent && f.Event != nil {
			deliver(*f.Event)
		}
	}
}
