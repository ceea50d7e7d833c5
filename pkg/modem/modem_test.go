package modem

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/packet"
)

// fakeLink records every packet sent and lets tests play the remote station.
type fakeLink struct {
	slot link.Slot

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	onSend  func(f *fakeLink, n int)
}

func (f *fakeLink) Send(ctx context.Context, p []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	n := len(f.sent)
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend(f, n)
	}
	return nil
}

func (f *fakeLink) SetReceiver(r link.Receiver) { f.slot.Set(r) }
func (f *fakeLink) MaxPacketSize() int { return link.DefaultMaxPacketSize }
func (f *fakeLink) Close() error { return nil }

// deliver plays a packet from the remote station on the link goroutine.
func (f *fakeLink) deliver(p []byte) {
	go f.slot.Deliver(p, link.DefaultChannel)
}

func (f *fakeLink) sentPackets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeLink) sentIndices(tb testing.TB) []uint8 {
	tb.Helper()
	var indices []uint8
	for _, raw := range f.sentPackets() {
		p, err := packet.Decode(raw)
		require.NoError(tb, err)
		indices = append(indices, p.Index)
	}
	return indices
}

func newTestModem(tb testing.TB, l link.Link, options ...Option) *Modem {
	tb.Helper()
	m, err := New(l, options...)
	require.NoError(tb, err)
	return m
}

func TestNew_InvalidDataLen(t *testing.T) {
	_, err := New(&fakeLink{}, WithDataLen(0))
	assert.Error(t, err)

	_, err = New(&fakeLink{}, WithDataLen(link.DefaultMaxPacketSize-packet.HeaderLen+1))
	assert.Error(t, err)

	_, err = New(&fakeLink{}, WithAckTimeout(time.Second), WithAckDelay(2*time.Second))
	assert.Error(t, err)
}

func TestSendMessage_ChainLength(t *testing.T) {
	testCases := []struct {
		name   string
		size   int
		legacy bool
		want   int
	}{
		{"65 bytes", 65, false, 3},
		{"exact multiple", 60, false, 2},
		{"exact multiple legacy", 60, true, 3},
		{"empty", 0, false, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fl := &fakeLink{}
			m := newTestModem(t, fl, WithLegacyChainLen(tc.legacy))

			message := bytes.Repeat([]byte{'x'}, tc.size)
			require.NoError(t, m.SendMessage(context.Background(), message))

			sent := fl.sentPackets()
			require.Len(t, sent, tc.want)

			var joined []byte
			for i, raw := range sent {
				p, err := packet.Decode(raw)
				require.NoError(t, err)
				assert.Equal(t, uint8(tc.want), p.ChainLen)
				assert.Equal(t, uint8(i), p.Index)
				joined = append(joined, p.Fragment...)
			}
			assert.Equal(t, message, joined)
		})
	}
}

func TestSendMessage_TooLong(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl, WithConfirmation(true))

	err := m.SendMessage(context.Background(), make([]byte, m.MaxMessageSize()+1))
	assert.ErrorIs(t, err, packet.ErrMessageTooLong)
	assert.Empty(t, fl.sentPackets())
	assert.Equal(t, 255*packet.DefaultDataLen, m.MaxMessageSize())
}

func TestSendMessage_LinkError(t *testing.T) {
	fl := &fakeLink{sendErr: link.ErrClosed}
	m := newTestModem(t, fl)

	err := m.SendMessage(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, link.ErrClosed)
}

func TestSendMessage_RetransmitsMissing(t *testing.T) {
	message := make([]byte, 200) // 7 packets
	chainLen := packet.ChainLen(len(message), packet.DefaultDataLen)

	fl := &fakeLink{onSend: func(f *fakeLink, n int) {
		switch n {
		case chainLen:
			f.deliver(packet.EncodeAck([]uint8{2, 5}))
		case chainLen + 2:
			f.deliver(packet.EncodeAck(nil))
		}
	}}
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(time.Second), WithAckDelay(10*time.Millisecond))

	require.NoError(t, m.SendMessage(context.Background(), message))

	indices := fl.sentIndices(t)
	require.Len(t, indices, chainLen+2)
	assert.Equal(t, []uint8{2, 5}, indices[chainLen:])
}

func TestSendMessage_WaitsForFurtherAck(t *testing.T) {
	message := make([]byte, 200)
	chainLen := packet.ChainLen(len(message), packet.DefaultDataLen)

	fl := &fakeLink{onSend: func(f *fakeLink, n int) {
		if n == chainLen {
			f.deliver(packet.EncodeAck([]uint8{2, 5, 200}))
		}
	}}
	ackTimeout := 200 * time.Millisecond
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(ackTimeout), WithAckDelay(10*time.Millisecond))

	start := time.Now()
	require.NoError(t, m.SendMessage(context.Background(), message))

	assert.GreaterOrEqual(t, time.Since(start), ackTimeout, "second round must wait for an acknowledgment")
	assert.Equal(t, []uint8{2, 5}, fl.sentIndices(t)[chainLen:], "indices outside the chain are ignored")
}

func TestSendMessage_NoAckMeansDone(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(100*time.Millisecond), WithAckDelay(10*time.Millisecond))

	require.NoError(t, m.SendMessage(context.Background(), []byte("hello")))
	assert.Len(t, fl.sentPackets(), 1)
	assert.Nil(t, fl.slot.Get(), "ack receiver must be unregistered")
}

func TestSendMessage_BrokenAck(t *testing.T) {
	fl := &fakeLink{onSend: func(f *fakeLink, n int) {
		if n == 1 {
			f.deliver([]byte{1, 0})
		}
	}}
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(time.Second), WithAckDelay(10*time.Millisecond))

	err := m.SendMessage(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, packet.ErrAckProtocol)
	assert.Len(t, fl.sentPackets(), 1)
}

func TestSendMessage_TooManyRounds(t *testing.T) {
	fl := &fakeLink{onSend: func(f *fakeLink, n int) {
		f.deliver(packet.EncodeAck([]uint8{0}))
	}}
	m := newTestModem(t, fl, WithConfirmation(true), WithMaxAckRounds(3),
		WithAckTimeout(time.Second), WithAckDelay(10*time.Millisecond))

	err := m.SendMessage(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrTooManyRetries)
	assert.Len(t, fl.sentPackets(), 3)
}

func TestSendMessage_IgnoresAckDuringRound(t *testing.T) {
	message := make([]byte, 200)
	chainLen := packet.ChainLen(len(message), packet.DefaultDataLen)

	fl := &fakeLink{onSend: func(f *fakeLink, n int) {
		if n == 2 {
			// heard while fragments are still going out
			f.slot.Deliver(packet.EncodeAck([]uint8{3}), link.DefaultChannel)
		}
	}}
	ackTimeout := 100 * time.Millisecond
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(ackTimeout), WithAckDelay(10*time.Millisecond))

	start := time.Now()
	require.NoError(t, m.SendMessage(context.Background(), message))

	assert.Len(t, fl.sentPackets(), chainLen, "no retransmission round")
	assert.GreaterOrEqual(t, time.Since(start), ackTimeout)
}

func TestReceivePacket_Timeout(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)

	start := time.Now()
	p, err := m.ReceivePacket(context.Background(), time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Nil(t, fl.slot.Get())
}

func TestReceivePacket(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)

	go func() {
		for fl.slot.Get() == nil {
			time.Sleep(time.Millisecond)
		}
		fl.deliver([]byte("packet"))
	}()

	p, err := m.ReceivePacket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("packet"), p)
	assert.Nil(t, fl.slot.Get())
}

func TestReceivePacket_ContextCancelled(t *testing.T) {
	m := newTestModem(t, &fakeLink{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p, err := m.ReceivePacket(ctx, 0)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReceiveMessage(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)
	message := bytes.Repeat([]byte("0123456789"), 10)

	go func() {
		for fl.slot.Get() == nil {
			time.Sleep(time.Millisecond)
		}
		packets := chain(t, message)
		for i := len(packets) - 1; i >= 0; i-- {
			fl.slot.Deliver(packets[i], 0)
		}
	}()

	got, err := m.ReceiveMessage(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, message, got)
	assert.Nil(t, fl.slot.Get())
}

func TestReceiveMessage_Timeout(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)

	go func() {
		for fl.slot.Get() == nil {
			time.Sleep(time.Millisecond)
		}
		fl.slot.Deliver(chain(t, make([]byte, 90))[0], 0)
	}()

	got, err := m.ReceiveMessage(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReceiveMessage_AcknowledgesMissing(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(time.Second), WithAckDelay(20*time.Millisecond))
	message := make([]byte, 120) // 4 packets
	packets := chain(t, message)

	var once sync.Once
	fl.onSend = func(f *fakeLink, n int) {
		// The first acknowledgment asks for the fragments we held back.
		once.Do(func() {
			f.slot.Deliver(packets[1], 0)
			f.slot.Deliver(packets[3], 0)
		})
	}

	go func() {
		for fl.slot.Get() == nil {
			time.Sleep(time.Millisecond)
		}
		fl.slot.Deliver(packets[0], 0)
		fl.slot.Deliver(packets[2], 0)
	}()

	got, err := m.ReceiveMessage(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, message, got)

	require.Eventually(t, func() bool { return len(fl.sentPackets()) >= 2 }, time.Second, 5*time.Millisecond)
	sent := fl.sentPackets()
	assert.Equal(t, packet.EncodeAck([]uint8{1, 3}), sent[0])
	assert.Equal(t, packet.EncodeAck(nil), sent[1], "completion is acknowledged with an empty list")
}

func TestReceiveMessage_AckFitsDataPacket(t *testing.T) {
	fl := &fakeLink{}
	dataLen := 4
	m := newTestModem(t, fl, WithConfirmation(true), WithDataLen(dataLen),
		WithAckTimeout(time.Second), WithAckDelay(10*time.Millisecond))

	packets, err := packet.Split(make([]byte, 40), dataLen, packet.ChainLen)
	require.NoError(t, err)
	require.Len(t, packets, 10)

	m.ListenForMessages(nil)
	defer m.StopListening()
	fl.slot.Deliver(packets[9], 0)

	require.Eventually(t, func() bool { return len(fl.sentPackets()) >= 1 }, time.Second, 5*time.Millisecond)
	ack := fl.sentPackets()[0]
	assert.LessOrEqual(t, len(ack), packet.HeaderLen+dataLen)
	assert.Equal(t, packet.EncodeAck([]uint8{0, 1, 2, 3, 4}), ack)
}

func TestListenForMessages_DropsLateCopies(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl, WithConfirmation(true), WithAckTimeout(time.Second), WithAckDelay(10*time.Millisecond))
	rec := &messageRecorder{}
	a := bytes.Repeat([]byte("a"), 90)
	b := bytes.Repeat([]byte("b"), 90)
	packetsA := chain(t, a)

	m.ListenForMessages(rec.callback)
	defer m.StopListening()

	fl.slot.Deliver(packetsA[0], 0)
	fl.slot.Deliver(packetsA[2], 0)
	require.Eventually(t, func() bool { return len(fl.sentPackets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, packet.EncodeAck([]uint8{1}), fl.sentPackets()[0])

	fl.slot.Deliver(packetsA[1], 0)
	// the sender heard the ack twice and answered twice
	fl.slot.Deliver(packetsA[1], 0)

	require.Eventually(t, func() bool { return len(fl.sentPackets()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, packet.EncodeAck(nil), fl.sentPackets()[1])
	assert.Equal(t, packet.EncodeAck(nil), fl.sentPackets()[2], "late copies are acknowledged again")

	for _, p := range chain(t, b) {
		fl.slot.Deliver(p, 0)
	}
	assert.Equal(t, [][]byte{a, b}, rec.all())
}

func TestListenForMessages(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)
	rec := &messageRecorder{}

	m.ListenForMessages(rec.callback)
	a := []byte("first message, long enough for two packets")
	b := []byte("second")
	for _, p := range chain(t, a) {
		fl.slot.Deliver(p, 0)
	}
	for _, p := range chain(t, b) {
		fl.slot.Deliver(p, 0)
	}
	assert.Equal(t, [][]byte{a, b}, rec.all())

	m.StopListening()
	m.StopListening()
	assert.Nil(t, fl.slot.Get())
}

func TestListenForPackets(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)

	var got [][]byte
	m.ListenForPackets(func(p []byte) { got = append(got, p) })
	fl.slot.Deliver([]byte{1}, 0)
	fl.slot.Deliver([]byte{2}, 0)
	m.StopListening()
	fl.slot.Deliver([]byte{3}, 0)

	assert.Equal(t, [][]byte{{1}, {2}}, got)
}

func TestStopListening_DiscardsPartialMessage(t *testing.T) {
	fl := &fakeLink{}
	m := newTestModem(t, fl)
	rec := &messageRecorder{}
	packets := chain(t, make([]byte, 60))

	m.ListenForMessages(rec.callback)
	fl.slot.Deliver(packets[0], 0)
	m.StopListening()

	m.ListenForMessages(rec.callback)
	fl.slot.Deliver(packets[1], 0)
	assert.Empty(t, rec.all())
	m.StopListening()
}

func TestEndToEnd_LossyLoopback(t *testing.T) {
	var mu sync.Mutex
	dropped := make(map[string]bool)
	bus := link.NewBus(link.WithDropFunc(func(from, to string, p []byte) bool {
		// Lose fragments 1 and 4 the first time they are sent.
		if from != "sender" || len(p) < packet.HeaderLen || (p[1] != 1 && p[1] != 4) {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		key := string(p[:2])
		if dropped[key] {
			return false
		}
		dropped[key] = true
		return true
	}))

	senderLink := bus.Endpoint("sender")
	receiverLink := bus.Endpoint("receiver")
	defer senderLink.Close()
	defer receiverLink.Close()

	options := []Option{WithConfirmation(true), WithAckTimeout(time.Second), WithAckDelay(50 * time.Millisecond)}
	sender := newTestModem(t, senderLink, options...)
	receiver := newTestModem(t, receiverLink, options...)

	message := bytes.Repeat([]byte("over the air "), 15)

	received := make(chan []byte, 1)
	receiver.ListenForMessages(func(m []byte) { received <- m })
	defer receiver.StopListening()

	require.NoError(t, sender.SendMessage(context.Background(), message))

	select {
	case got := <-received:
		assert.Equal(t, message, got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestEndToEnd_WithoutConfirmation(t *testing.T) {
	bus := link.NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	defer a.Close()
	defer b.Close()

	sender := newTestModem(t, a)
	receiver := newTestModem(t, b)
	message := bytes.Repeat([]byte{0xAB}, 500)

	result := make(chan []byte, 1)
	go func() {
		got, err := receiver.ReceiveMessage(context.Background(), 2*time.Second)
		assert.NoError(t, err)
		result <- got
	}()

	require.Eventually(t, func() bool {
		receiver.mu.Lock()
		defer receiver.mu.Unlock()
		return receiver.active != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, sender.SendMessage(context.Background(), message))
	assert.Equal(t, message, <-result)
}

func TestEndToEnd_AirtimeLongerThanAckDelay(t *testing.T) {
	testCases := []struct {
		name string
		lose bool
	}{
		{"no loss", false},
		{"fragment lost once", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var mu sync.Mutex
			sent := 0
			dropped := false
			bus := link.NewBus(
				link.WithAirtime(30*time.Millisecond),
				link.WithDropFunc(func(from, to string, p []byte) bool {
					if from != "sender" {
						return false
					}
					mu.Lock()
					defer mu.Unlock()
					sent++
					if tc.lose && !dropped && p[1] == 1 {
						dropped = true
						return true
					}
					return false
				}),
			)

			senderLink := bus.Endpoint("sender")
			receiverLink := bus.Endpoint("receiver")
			defer senderLink.Close()
			defer receiverLink.Close()

			options := []Option{WithConfirmation(true), WithAckTimeout(300 * time.Millisecond), WithAckDelay(20 * time.Millisecond)}
			sender := newTestModem(t, senderLink, options...)
			receiver := newTestModem(t, receiverLink, options...)
			rec := &messageRecorder{}
			receiver.ListenForMessages(rec.callback)
			defer receiver.StopListening()

			a := bytes.Repeat([]byte("A"), 90)
			b := bytes.Repeat([]byte("B"), 90)

			start := time.Now()
			require.NoError(t, sender.SendMessage(context.Background(), a))
			require.NoError(t, sender.SendMessage(context.Background(), b))
			assert.Less(t, time.Since(start), 2*time.Second)

			time.Sleep(500 * time.Millisecond)
			assert.Equal(t, [][]byte{a, b}, rec.all(), "each message is delivered exactly once")

			mu.Lock()
			defer mu.Unlock()
			want := 6
			if tc.lose {
				want = 7
			}
			assert.Equal(t, want, sent)
		})
	}
}
