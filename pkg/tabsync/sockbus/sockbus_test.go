package sockbus_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync/sockbus"
)

type inbox struct {
	mu     sync.Mutex
	events []tabsync.Event
}

func (i *inbox) handle(ev tabsync.Event) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, ev)
}

func (i *inbox) snapshot() []tabsync.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]tabsync.Event(nil), i.events...)
}

func startBroker(t *testing.T, network, address string) *sockbus.Broker {
	t.Helper()

	broker, err := sockbus.Listen(network, address, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- broker.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, broker.Close())
		require.NoError(t, <-done)
	})
	return broker
}

func busFor(broker *sockbus.Broker) *sockbus.Bus {
	addr := broker.Addr()
	return &sockbus.Bus{Network: addr.Network(), Address: addr.String()}
}

func waitForPeers(t *testing.T, broker *sockbus.Broker, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return broker.Peers(channel) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestBrokerFansOutToOtherConnections(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "tcp", "127.0.0.1:0")
	bus := busFor(broker)

	var a, b, c inbox
	portA, err := bus.Join(tabsync.DefaultChannel, a.handle)
	require.NoError(t, err)
	defer portA.Close()
	portB, err := bus.Join(tabsync.DefaultChannel, b.handle)
	require.NoError(t, err)
	defer portB.Close()
	portC, err := bus.Join(tabsync.DefaultChannel, c.handle)
	require.NoError(t, err)
	defer portC.Close()
	waitForPeers(t, broker, tabsync.DefaultChannel, 3)

	expires := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)
	ev := tabsync.TokenRefreshed(
		credential.Access{Token: "A2", ExpiresAt: expires},
		credential.Identity{
			ID:      "user-1",
			Role:    "clerk",
			Profile: map[string]any{"theme": "dark", "prefs": map[string]any{"lang": "en"}},
		},
	)
	ev.ID = idx.NewEvent()
	ev.Origin = idx.NewTab()
	require.NoError(t, portA.Post(ev))

	require.Eventually(t, func() bool {
		return len(b.snapshot()) == 1 && len(c.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, a.snapshot())

	got := b.snapshot()[0]
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, ev.Origin, got.Origin)
	require.Equal(t, tabsync.KindTokenRefreshed, got.Kind)
	require.Equal(t, "A2", got.Access.Token)
	require.True(t, expires.Equal(got.Access.ExpiresAt))
	require.Equal(t, "clerk", got.Identity.Role)
	require.Equal(t, map[string]any{"lang": "en"}, got.Identity.Profile["prefs"])
}

func TestBrokerIsolatesChannels(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "tcp", "127.0.0.1:0")
	bus := busFor(broker)

	var a, b, other inbox
	portA, err := bus.Join("auth", a.handle)
	require.NoError(t, err)
	defer portA.Close()
	portB, err := bus.Join("auth", b.handle)
	require.NoError(t, err)
	defer portB.Close()
	portOther, err := bus.Join("billing", other.handle)
	require.NoError(t, err)
	defer portOther.Close()
	waitForPeers(t, broker, "auth", 2)
	waitForPeers(t, broker, "billing", 1)

	require.NoError(t, portA.Post(tabsync.Logout()))

	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(other.snapshot()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestBusPreservesOrder(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "unix", filepath.Join(t.TempDir(), "tabs.sock"))
	bus := busFor(broker)

	var b inbox
	portA, err := bus.Join("auth", func(tabsync.Event) {})
	require.NoError(t, err)
	defer portA.Close()
	portB, err := bus.Join("auth", b.handle)
	require.NoError(t, err)
	defer portB.Close()
	waitForPeers(t, broker, "auth", 2)

	const n = 50
	ids := make([]idx.ID, n)
	for i := range n {
		ev := tabsync.Logout()
		ev.ID = idx.NewEvent()
		ids[i] = ev.ID
		require.NoError(t, portA.Post(ev))
	}

	require.Eventually(t, func() bool { return len(b.snapshot()) == n }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range b.snapshot() {
		require.Equal(t, ids[i], ev.ID)
	}
}

func TestPortPostAfterClose(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "tcp", "127.0.0.1:0")
	port, err := busFor(broker).Join("auth", func(tabsync.Event) {})
	require.NoError(t, err)

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
	require.ErrorIs(t, port.Post(tabsync.Logout()), tabsync.ErrClosed)
	waitForPeers(t, broker, "auth", 0)
}

func TestJoinFailsWithoutBroker(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	bus := &sockbus.Bus{Network: "tcp", Address: addr, DialTimeout: 200 * time.Millisecond}
	_, err = bus.Join("auth", func(tabsync.Event) {})
	require.Error(t, err)
}

func TestBrokerRejectsConnectionWithoutJoin(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "tcp", "127.0.0.1:0")

	conn, err := net.Dial("tcp", broker.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xf6}) // CBOR null
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "broker should hang up on a tab that never joins")
}

func TestSynchronizersOverSocketBus(t *testing.T) {
	t.Parallel()

	broker := startBroker(t, "tcp", "127.0.0.1:0")
	bus := busFor(broker)

	tabA := tabsync.New(bus, "auth", idx.NewTab(), nil)
	defer tabA.Close()
	tabB := tabsync.New(bus, "auth", idx.NewTab(), nil)
	defer tabB.Close()
	waitForPeers(t, broker, "auth", 2)

	var a, b inbox
	tabA.OnEvent(a.handle)
	tabB.OnEvent(b.handle)

	require.NoError(t, tabA.Broadcast(context.Background(), tabsync.Logout()))

	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, tabA.TabID(), b.snapshot()[0].Origin)
	require.Empty(t, a.snapshot())
}

func TestBrokerLimitsPublishRatePerTab(t *testing.T) {
	t.Parallel()

	broker, err := sockbus.Listen("tcp", "127.0.0.1:0", nil)
	require.NoError(t, err)
	broker.SetPeerLimit(sockbus.RateLimit{EventsPerWindow: 1, Window: time.Hour, Burst: 2})
	done := make(chan error, 1)
	go func() { done <- broker.Serve() }()
	defer func() {
		require.NoError(t, broker.Close())
		require.NoError(t, <-done)
	}()

	bus := busFor(broker)
	var b inbox
	portA, err := bus.Join("auth", func(tabsync.Event) {})
	require.NoError(t, err)
	defer portA.Close()
	portB, err := bus.Join("auth", b.handle)
	require.NoError(t, err)
	defer portB.Close()
	waitForPeers(t, broker, "auth", 2)

	for range 5 {
		require.NoError(t, portA.Post(tabsync.Logout()))
	}

	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(b.snapshot()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}
