// Package modem carries arbitrarily long messages over a link that only
// moves small, unordered, best-effort packets.
//
// A message is split into a chain of at most 255 packets (see package
// packet) and sent in index order. The receiving side reassembles the chain
// in whatever order it arrives. In confirmation mode the receiver answers
// with the list of indices it is missing and the sender retransmits exactly
// those, until nothing is missing or no acknowledgment arrives.
package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/packet"
)

const (
	// DefaultAckTimeout is how long a sender waits for an acknowledgment.
	DefaultAckTimeout = 5 * time.Second

	// DefaultAckDelay is how long a receiver waits after the last fragment
	// before asking for the missing ones.
	DefaultAckDelay = 1 * time.Second
)

// ErrTooManyRetries is returned when a confirmed send exceeds its ack rounds.
var ErrTooManyRetries = errors.New("too many retransmission rounds")

// Option configures a Modem.
type Option func(*Modem)

// WithConfirmation enables the acknowledgment and retransmission round.
func WithConfirmation(enabled bool) Option {
	return func(m *Modem) {
		m.withConfirmation = enabled
	}
}

// WithDataLen sets how many message bytes travel in each packet.
func WithDataLen(n int) Option {
	return func(m *Modem) {
		m.dataLen = n
	}
}

// WithLegacyChainLen uses the size/dataLen+1 chain length of older peers.
func WithLegacyChainLen(enabled bool) Option {
	return func(m *Modem) {
		if enabled {
			m.chainLen = packet.LegacyChainLen
		} else {
			m.chainLen = packet.ChainLen
		}
	}
}

// WithAckTimeout sets how long a sender waits for each acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(m *Modem) {
		if d > 0 {
			m.ackTimeout = d
		}
	}
}

// WithAckDelay sets the receiver's quiet period before acknowledging.
func WithAckDelay(d time.Duration) Option {
	return func(m *Modem) {
		if d > 0 {
			m.ackDelay = d
		}
	}
}

// WithMaxAckRounds caps the retransmission rounds of a confirmed send.
// Zero means no cap.
func WithMaxAckRounds(n int) Option {
	return func(m *Modem) {
		if n >= 0 {
			m.maxAckRounds = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Modem) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Modem sends and receives messages and single packets over a link. Each
// blocking call registers its own receiver on the link for its duration;
// only one receiver is registered at a time, and registering replaces the
// previous one.
type Modem struct {
	link             link.Link
	dataLen          int
	chainLen         packet.ChainLenFunc
	withConfirmation bool
	ackTimeout       time.Duration
	ackDelay         time.Duration
	maxAckRounds     int
	logger           *slog.Logger

	mu     sync.Mutex
	active link.Receiver
	ack    *acknowledger
}

// New creates a modem on top of l.
func New(l link.Link, options ...Option) (*Modem, error) {
	m := &Modem{
		link:       l,
		dataLen:    packet.DefaultDataLen,
		chainLen:   packet.ChainLen,
		ackTimeout: DefaultAckTimeout,
		ackDelay:   DefaultAckDelay,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(m)
	}

	if limit := l.MaxPacketSize() - packet.HeaderLen; m.dataLen <= 0 || m.dataLen > limit {
		return nil, fmt.Errorf("data length must be between 1 and %d, got %d", limit, m.dataLen)
	}
	if m.ackDelay >= m.ackTimeout {
		return nil, fmt.Errorf("ack delay %s must be shorter than ack timeout %s", m.ackDelay, m.ackTimeout)
	}
	return m, nil
}

// ConfirmationEnabled reports whether confirmation mode is enabled.
func (m *Modem) ConfirmationEnabled() bool {
	return m.withConfirmation
}

// DataLen returns the number of message bytes carried per packet.
func (m *Modem) DataLen() int {
	return m.dataLen
}

// ChainLen returns the number of packets a message of size bytes needs.
func (m *Modem) ChainLen(size int) int {
	return m.chainLen(size, m.dataLen)
}

// MaxMessageSize returns the largest message SendMessage accepts.
func (m *Modem) MaxMessageSize() int {
	return packet.MaxMessageSize(m.dataLen, m.chainLen)
}

// SendMessage sends message as a chain of packets. Nothing is sent when the
// message needs more than 255 packets. In confirmation mode it then waits
// for acknowledgments and retransmits the fragments they list; a missing
// acknowledgment ends the exchange.
func (m *Modem) SendMessage(ctx context.Context, message []byte) error {
	chainLen := m.ChainLen(len(message))
	if chainLen > packet.MaxChainLen {
		return fmt.Errorf("%d bytes need %d packets, at most %d allowed: %w",
			len(message), chainLen, packet.MaxChainLen, packet.ErrMessageTooLong)
	}

	indices := make([]uint8, chainLen)
	for i := range indices {
		indices[i] = uint8(i)
	}

	m.logger.Info("Sending message", "size", len(message), "chain_len", chainLen, "confirmation", m.withConfirmation)

	if !m.withConfirmation {
		return m.sendPackets(ctx, message, chainLen, indices)
	}

	for round := 1; len(indices) > 0; round++ {
		ack, err := m.sendRound(ctx, message, chainLen, indices)
		if err != nil {
			return err
		}

		if len(ack) == 0 {
			m.logger.Info("No acknowledgment received, assuming delivered", "round", round)
			return nil
		}

		missing, err := packet.DecodeAck(ack)
		if err != nil {
			return fmt.Errorf("failed to read acknowledgment: %w", err)
		}
		indices = retryIndices(missing, chainLen)
		if len(indices) == 0 {
			break
		}

		if m.maxAckRounds > 0 && round >= m.maxAckRounds {
			return fmt.Errorf("%d fragments still missing after %d rounds: %w", len(indices), round, ErrTooManyRetries)
		}
		m.logger.Info("Retransmitting missing fragments", "round", round, "missing", len(indices))
	}

	m.logger.Info("Message acknowledged", "size", len(message))
	return nil
}

// retryIndices keeps the distinct indices that belong to the chain.
func retryIndices(missing []uint8, chainLen int) []uint8 {
	seen := make(map[uint8]bool, len(missing))
	indices := make([]uint8, 0, len(missing))
	for _, i := range missing {
		if int(i) >= chainLen || seen[i] {
			continue
		}
		seen[i] = true
		indices = append(indices, i)
	}
	return indices
}

// sendRound sends the fragments at indices and waits up to the ack timeout
// for the acknowledgment. Packets heard before the last fragment goes out
// answer an earlier round and are ignored.
func (m *Modem) sendRound(ctx context.Context, message []byte, chainLen int, indices []uint8) ([]byte, error) {
	r := NewSinglePacketReceiver(nil)
	r.hold()
	m.register(r, nil)
	defer m.unregister(r)

	for n, i := range indices {
		if n == len(indices)-1 {
			r.release()
		}
		if err := m.sendPacket(ctx, message, chainLen, i); err != nil {
			return nil, err
		}
	}

	if err := wait(ctx, m.ackTimeout, r.Done()); err != nil {
		return nil, err
	}
	return r.Packet(), nil
}

func (m *Modem) sendPackets(ctx context.Context, message []byte, chainLen int, indices []uint8) error {
	for _, i := range indices {
		if err := m.sendPacket(ctx, message, chainLen, i); err != nil {
			return err
		}
	}
	return nil
}

func (m *Modem) sendPacket(ctx context.Context, message []byte, chainLen int, i uint8) error {
	p := packet.Encode(uint8(chainLen), i, packet.Fragment(message, m.dataLen, int(i)))
	if err := m.SendPacket(ctx, p); err != nil {
		return fmt.Errorf("failed to send packet %d of %d: %w", i, chainLen, err)
	}
	return nil
}

// SendPacket sends a single packet, blocking until the link accepts it.
func (m *Modem) SendPacket(ctx context.Context, p []byte) error {
	return m.link.Send(ctx, p)
}

// ReceivePacket waits for a single packet. It returns nil without error
// when timeout expires; a zero timeout waits until ctx is done.
func (m *Modem) ReceivePacket(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return m.awaitPacket(ctx, timeout)
}

// awaitPacket registers a fresh single packet receiver and waits for a packet.
func (m *Modem) awaitPacket(ctx context.Context, timeout time.Duration) ([]byte, error) {
	r := NewSinglePacketReceiver(nil)
	m.register(r, nil)
	defer m.unregister(r)

	if err := wait(ctx, timeout, r.Done()); err != nil {
		return nil, err
	}
	return r.Packet(), nil
}

// ReceiveMessage waits for a complete message. It returns nil without error
// when timeout expires; a zero timeout waits until ctx is done.
func (m *Modem) ReceiveMessage(ctx context.Context, timeout time.Duration) ([]byte, error) {
	r := NewMessageReassembler(nil, WithReassemblerLogger(m.logger))
	receiver, ack := m.messageReceiver(r)
	m.register(receiver, ack)
	defer m.unregister(receiver)

	if err := wait(ctx, timeout, r.Done()); err != nil {
		return nil, err
	}
	if received, total := r.Progress(); r.Message() == nil && total > 0 {
		m.logger.Info("Gave up on incomplete message", "received", received, "total", total)
	}
	return r.Message(), nil
}

// ListenForPackets calls callback with every packet until StopListening.
func (m *Modem) ListenForPackets(callback PacketCallback) {
	m.register(NewSinglePacketReceiver(callback), nil)
}

// ListenForMessages calls callback with every completed message until
// StopListening.
func (m *Modem) ListenForMessages(callback MessageCallback) {
	r := NewMessageReassembler(callback, WithResetOnMessage(), WithReassemblerLogger(m.logger))
	receiver, ack := m.messageReceiver(r)
	m.register(receiver, ack)
}

// StopListening unregisters the current receiver, discarding any partial
// message. It is safe to call when nothing is registered.
func (m *Modem) StopListening() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Modem) messageReceiver(r *MessageReassembler) (link.Receiver, *acknowledger) {
	if !m.withConfirmation {
		return r, nil
	}
	// an acknowledgment never outgrows a data packet
	maxMissing := packet.HeaderLen + m.dataLen - 1
	ack := newAcknowledger(r, m.sendAck, m.ackDelay, m.ackTimeout/2, m.ackTimeout, maxMissing, m.logger)
	return ack, ack
}

func (m *Modem) sendAck(ack []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ackTimeout)
	defer cancel()
	return m.SendPacket(ctx, ack)
}

func (m *Modem) register(r link.Receiver, ack *acknowledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ack != nil {
		m.ack.stop()
	}
	m.active = r
	m.ack = ack
	m.link.SetReceiver(r)
}

// unregister clears the link only if r is still the registered receiver.
func (m *Modem) unregister(r link.Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == r {
		m.clearLocked()
	}
}

func (m *Modem) clearLocked() {
	if m.ack != nil {
		m.ack.stop()
		m.ack = nil
	}
	m.active = nil
	m.link.SetReceiver(nil)
}

// wait blocks until done is closed, timeout expires or ctx is done. Only
// ctx ends it with an error.
func wait(ctx context.Context, timeout time.Duration, done <-chan struct{}) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		return nil
	case <-expired:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
			return ctx.Err()
		}
	}
}
