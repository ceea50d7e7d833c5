package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records every payload it is notified with.
type collector struct {
	mu       sync.Mutex
	payloads [][]byte
	channels []int
	notify   chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 64)}
}

func (c *collector) OnReceived(payload []byte, channel int) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.channels = append(c.channels, channel)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for packet %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func TestSlot(t *testing.T) {
	var slot Slot
	assert.Nil(t, slot.Get())
	assert.False(t, slot.Deliver([]byte{1}, 0))

	c := newCollector()
	slot.Set(c)
	assert.True(t, slot.Deliver([]byte{1}, 3))
	assert.Equal(t, [][]byte{{1}}, c.wait(t, 1))
	assert.Equal(t, []int{3}, c.channels)

	slot.Set(nil)
	assert.False(t, slot.Deliver([]byte{2}, 0))
}

func TestSlot_ReceiverMayReplaceItself(t *testing.T) {
	var slot Slot
	var calls int
	slot.Set(ReceiverFunc(func(payload []byte, channel int) {
		calls++
		slot.Set(nil)
	}))

	slot.Deliver([]byte{1}, 0)
	slot.Deliver([]byte{2}, 0)
	assert.Equal(t, 1, calls)
}

func TestLoopback_Broadcast(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	c := bus.Endpoint("c")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	ca, cb, cc := newCollector(), newCollector(), newCollector()
	a.SetReceiver(ca)
	b.SetReceiver(cb)
	c.SetReceiver(cc)

	require.NoError(t, a.Send(context.Background(), []byte("hi")))

	assert.Equal(t, [][]byte{[]byte("hi")}, cb.wait(t, 1))
	assert.Equal(t, [][]byte{[]byte("hi")}, cc.wait(t, 1))

	time.Sleep(20 * time.Millisecond)
	ca.mu.Lock()
	assert.Empty(t, ca.payloads, "sender must not hear itself")
	ca.mu.Unlock()
}

func TestLoopback_PreservesOrder(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	defer a.Close()
	defer b.Close()

	cb := newCollector()
	b.SetReceiver(cb)

	for i := byte(0); i < 10; i++ {
		require.NoError(t, a.Send(context.Background(), []byte{i}))
	}

	got := cb.wait(t, 10)
	for i, p := range got {
		assert.Equal(t, []byte{byte(i)}, p)
	}
}

func TestLoopback_Drop(t *testing.T) {
	bus := NewBus(WithDropFunc(func(from, to string, packet []byte) bool {
		return packet[0] == 1
	}))
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	defer a.Close()
	defer b.Close()

	cb := newCollector()
	b.SetReceiver(cb)

	for i := byte(0); i < 3; i++ {
		require.NoError(t, a.Send(context.Background(), []byte{i}))
	}
	assert.Equal(t, [][]byte{{0}, {2}}, cb.wait(t, 2))
}

func TestLoopback_PacketTooLarge(t *testing.T) {
	bus := NewBus(WithMaxPacketSize(4))
	a := bus.Endpoint("a")
	defer a.Close()

	assert.Equal(t, 4, a.MaxPacketSize())
	err := a.Send(context.Background(), make([]byte, 5))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestLoopback_SendAfterClose(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Send(context.Background(), []byte{1}), ErrClosed)
}

func TestLoopback_AirtimeHonoursContext(t *testing.T) {
	bus := NewBus(WithAirtime(time.Second))
	a := bus.Endpoint("a")
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := a.Send(ctx, []byte{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUDP_RoundTrip(t *testing.T) {
	server, err := NewUDP("127.0.0.1:0", "")
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDP("127.0.0.1:0", server.LocalAddr().String(), WithUDPChannel(7))
	require.NoError(t, err)
	defer client.Close()

	cs := newCollector()
	server.SetReceiver(cs)
	cc := newCollector()
	client.SetReceiver(cc)

	assert.ErrorIs(t, server.Send(context.Background(), []byte("x")), ErrNoPeer)

	require.NoError(t, client.Send(context.Background(), []byte("ping")))
	assert.Equal(t, [][]byte{[]byte("ping")}, cs.wait(t, 1))
	require.NotNil(t, server.Peer())

	// The server learned the client's address from the first datagram.
	require.NoError(t, server.Send(context.Background(), []byte("pong")))
	assert.Equal(t, [][]byte{[]byte("pong")}, cc.wait(t, 1))
	assert.Equal(t, []int{7}, cc.channels)
}

func TestUDP_FollowsNewChains(t *testing.T) {
	server, err := NewUDP("127.0.0.1:0", "")
	require.NoError(t, err)
	defer server.Close()
	cs := newCollector()
	server.SetReceiver(cs)

	sender, err := NewUDP("127.0.0.1:0", server.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()
	stray, err := NewUDP("127.0.0.1:0", server.LocalAddr().String())
	require.NoError(t, err)
	defer stray.Close()

	require.NoError(t, sender.Send(context.Background(), []byte{2, 1, 'a'}))
	cs.wait(t, 1)
	assert.Equal(t, sender.LocalAddr().String(), server.Peer().String())

	require.NoError(t, stray.Send(context.Background(), []byte("noise")))
	cs.wait(t, 1)
	assert.Equal(t, sender.LocalAddr().String(), server.Peer().String(), "a stray datagram doesn't take over")

	require.NoError(t, stray.Send(context.Background(), []byte{1, 0, 'b'}))
	cs.wait(t, 1)
	assert.Equal(t, stray.LocalAddr().String(), server.Peer().String(), "a new chain moves the peer")

	// a configured peer never moves
	require.NoError(t, server.SetPeer(sender.LocalAddr().String()))
	require.NoError(t, stray.Send(context.Background(), []byte{1, 0, 'c'}))
	cs.wait(t, 1)
	assert.Equal(t, sender.LocalAddr().String(), server.Peer().String())
}

func TestUDP_PacketTooLarge(t *testing.T) {
	u, err := NewUDP("127.0.0.1:0", "127.0.0.1:9", WithUDPMaxPacketSize(8))
	require.NoError(t, err)
	defer u.Close()

	err = u.Send(context.Background(), make([]byte, 9))
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	require.NoError(t, u.Close())
	assert.ErrorIs(t, u.Send(context.Background(), []byte{1}), ErrClosed)
}
