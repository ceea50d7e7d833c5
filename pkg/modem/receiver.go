package modem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/packet"
)

// ErrIncompleteMessage is returned when combining a chain with missing fragments.
var ErrIncompleteMessage = errors.New("incomplete message")

// PacketCallback is called with every packet a SinglePacketReceiver hears.
type PacketCallback func(packet []byte)

// MessageCallback is called with every message a MessageReassembler completes.
type MessageCallback func(message []byte)

// SinglePacketReceiver latches the first packet delivered by the link. The
// callback, if any, sees every packet.
type SinglePacketReceiver struct {
	callback PacketCallback

	mu       sync.Mutex
	packet   []byte
	captured bool
	held     bool
	done     chan struct{}
}

var _ link.Receiver = (*SinglePacketReceiver)(nil)

// NewSinglePacketReceiver creates a receiver with an optional callback.
func NewSinglePacketReceiver(callback PacketCallback) *SinglePacketReceiver {
	return &SinglePacketReceiver{
		callback: callback,
		done:     make(chan struct{}),
	}
}

func (r *SinglePacketReceiver) OnReceived(payload []byte, channel int) {
	if payload == nil {
		return
	}

	r.mu.Lock()
	if r.held {
		r.mu.Unlock()
		return
	}
	first := !r.captured
	if first {
		r.packet = payload
		r.captured = true
	}
	r.mu.Unlock()

	if first {
		close(r.done)
	}
	if r.callback != nil {
		r.callback(payload)
	}
}

// hold makes the receiver ignore packets until release.
func (r *SinglePacketReceiver) hold() {
	r.mu.Lock()
	r.held = true
	r.mu.Unlock()
}

func (r *SinglePacketReceiver) release() {
	r.mu.Lock()
	r.held = false
	r.mu.Unlock()
}

// Packet returns the captured packet, or nil.
func (r *SinglePacketReceiver) Packet() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packet
}

// Done is closed once a packet has been captured.
func (r *SinglePacketReceiver) Done() <-chan struct{} {
	return r.done
}

// ReassemblerOption configures a MessageReassembler.
type ReassemblerOption func(*MessageReassembler)

// WithResetOnMessage makes the reassembler start over after every message
// instead of staying finished.
func WithResetOnMessage() ReassemblerOption {
	return func(r *MessageReassembler) {
		r.resetOnMessage = true
	}
}

// WithReassemblerLogger sets the logger used for dropped fragments.
func WithReassemblerLogger(logger *slog.Logger) ReassemblerOption {
	return func(r *MessageReassembler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

type receiveResult int

const (
	fragmentIgnored receiveResult = iota
	fragmentStored
	messageCompleted
)

// MessageReassembler collects the fragments of a chain, in any order, and
// rebuilds the message once every index has been seen. The chain length is
// taken from the first fragment and kept until the message completes.
type MessageReassembler struct {
	callback       MessageCallback
	resetOnMessage bool
	logger         *slog.Logger

	mu         sync.Mutex
	totalParts int
	parts      map[uint8][]byte
	finished   bool
	message    []byte
	malformed  int

	done     chan struct{}
	doneOnce sync.Once
}

var _ link.Receiver = (*MessageReassembler)(nil)

// NewMessageReassembler creates a reassembler with an optional callback.
func NewMessageReassembler(callback MessageCallback, options ...ReassemblerOption) *MessageReassembler {
	r := &MessageReassembler{
		callback: callback,
		logger:   slog.Default(),
		parts:    make(map[uint8][]byte),
		done:     make(chan struct{}),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *MessageReassembler) OnReceived(payload []byte, channel int) {
	r.receive(payload, channel)
}

func (r *MessageReassembler) receive(payload []byte, channel int) receiveResult {
	if len(payload) == 0 {
		return fragmentIgnored
	}

	p, err := packet.Decode(payload)
	if err != nil {
		r.dropMalformed(err, channel)
		return fragmentIgnored
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		r.logger.Debug("Message already complete, ignoring fragment", "index", p.Index)
		return fragmentIgnored
	}

	if r.totalParts == 0 {
		if err := p.Validate(); err != nil {
			r.mu.Unlock()
			r.dropMalformed(err, channel)
			return fragmentIgnored
		}
		r.totalParts = int(p.ChainLen)
	} else if int(p.ChainLen) != r.totalParts {
		r.logger.Warn("Fragment declares a different chain length, keeping the first",
			"declared", p.ChainLen, "expected", r.totalParts, "index", p.Index)
	}

	if int(p.Index) >= r.totalParts {
		r.mu.Unlock()
		r.dropMalformed(fmt.Errorf("index %d out of chain of %d: %w", p.Index, r.totalParts, packet.ErrMalformedPacket), channel)
		return fragmentIgnored
	}

	if _, dup := r.parts[p.Index]; dup {
		r.logger.Debug("Duplicate fragment", "index", p.Index)
	}
	r.parts[p.Index] = append([]byte(nil), p.Fragment...)

	if len(r.parts) != r.totalParts {
		r.mu.Unlock()
		return fragmentStored
	}

	message, err := r.combineLocked()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("Failed to combine message", "error", err)
		return fragmentIgnored
	}

	r.message = message
	if r.resetOnMessage {
		r.resetLocked()
	} else {
		r.finished = true
	}
	r.mu.Unlock()

	r.doneOnce.Do(func() { close(r.done) })
	if r.callback != nil {
		r.callback(message)
	}
	return messageCompleted
}

func (r *MessageReassembler) dropMalformed(err error, channel int) {
	r.mu.Lock()
	r.malformed++
	r.mu.Unlock()
	r.logger.Warn("Dropping malformed fragment", "channel", channel, "error", err)
}

// Finished reports whether a one-shot reassembler holds a complete message.
func (r *MessageReassembler) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Message returns the last completed message, or nil.
func (r *MessageReassembler) Message() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message
}

// Done is closed when the first message completes.
func (r *MessageReassembler) Done() <-chan struct{} {
	return r.done
}

// Progress returns how many distinct fragments of the current chain have
// arrived and the chain length, 0 if no fragment has arrived yet.
func (r *MessageReassembler) Progress() (received, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parts), r.totalParts
}

// Malformed returns the number of fragments dropped as malformed.
func (r *MessageReassembler) Malformed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.malformed
}

// Missing lists the indices of the current chain that haven't arrived, in
// ascending order. It is empty when no chain is in progress.
func (r *MessageReassembler) Missing() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || r.totalParts == 0 {
		return nil
	}
	var missing []uint8
	for i := 0; i < r.totalParts; i++ {
		if _, ok := r.parts[uint8(i)]; !ok {
			missing = append(missing, uint8(i))
		}
	}
	return missing
}

// Combine concatenates the fragments of the current chain in index order.
func (r *MessageReassembler) Combine() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.combineLocked()
}

func (r *MessageReassembler) combineLocked() ([]byte, error) {
	if r.totalParts == 0 {
		return nil, fmt.Errorf("no fragment received: %w", ErrIncompleteMessage)
	}

	size := 0
	for _, part := range r.parts {
		size += len(part)
	}
	message := make([]byte, 0, size)
	for i := 0; i < r.totalParts; i++ {
		part, ok := r.parts[uint8(i)]
		if !ok {
			return nil, fmt.Errorf("fragment %d of %d missing: %w", i, r.totalParts, ErrIncompleteMessage)
		}
		message = append(message, part...)
	}
	return message, nil
}

// Reset drops the current chain, the finished state and the last message.
func (r *MessageReassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.finished = false
	r.message = nil
}

func (r *MessageReassembler) resetLocked() {
	r.totalParts = 0
	r.parts = make(map[uint8][]byte)
}
