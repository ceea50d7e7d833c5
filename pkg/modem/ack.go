package modem

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/packet"
)

// maxIdleAcks bounds how many times the same missing list is repeated when
// no fragment arrives in between.
const maxIdleAcks = 3

// acknowledger is the receiving half of confirmation mode. It wraps a
// reassembler and tells the sender which fragments to retransmit, and sends
// an empty acknowledgment as soon as the message completes.
//
// Fragments of a round arrive in ascending order, so once no missing index
// lies above the last one heard the round is over and the acknowledgment
// goes out after delay. While the round is still running it only goes out
// after stall without a fragment, which covers a lost tail.
//
// Retransmissions answered for a completed chain are remembered for grace.
// Late copies of them are dropped and answered with another empty
// acknowledgment instead of starting a new chain.
type acknowledger struct {
	reassembler *MessageReassembler
	send        func(ack []byte) error
	delay       time.Duration
	stall       time.Duration
	grace       time.Duration
	maxMissing  int
	logger      *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	idle      int
	stopped   bool
	requested map[uint8]bool
	answers   map[uint8][]byte
	completed map[uint8][]byte
	until     time.Time
}

var _ link.Receiver = (*acknowledger)(nil)

func newAcknowledger(r *MessageReassembler, send func([]byte) error, delay, stall, grace time.Duration, maxMissing int, logger *slog.Logger) *acknowledger {
	if maxMissing < 1 {
		maxMissing = 1
	}
	return &acknowledger{
		reassembler: r,
		send:        send,
		delay:       delay,
		stall:       max(stall, delay),
		grace:       grace,
		maxMissing:  maxMissing,
		logger:      logger,
		requested:   make(map[uint8]bool),
		answers:     make(map[uint8][]byte),
	}
}

func (a *acknowledger) OnReceived(payload []byte, channel int) {
	p, err := packet.Decode(payload)
	if err != nil {
		a.reassembler.receive(payload, channel)
		return
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	if a.isLateCopy(p.Index, payload) {
		a.until = time.Now().Add(a.grace)
		a.mu.Unlock()
		a.logger.Debug("Dropping late copy of a delivered fragment", "index", p.Index, "chain_len", p.ChainLen)
		go a.transmit(nil)
		return
	}
	a.completed = nil
	if received, _ := a.reassembler.Progress(); received == 0 {
		a.requested = make(map[uint8]bool)
		a.answers = make(map[uint8][]byte)
	}
	if a.requested[p.Index] {
		a.answers[p.Index] = append([]byte(nil), payload...)
	}
	a.mu.Unlock()

	result := a.reassembler.receive(payload, channel)
	if result == fragmentIgnored {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.idle = 0

	if result == messageCompleted {
		if a.timer != nil {
			a.timer.Stop()
		}
		a.completed = a.answers
		a.until = time.Now().Add(a.grace)
		a.requested = make(map[uint8]bool)
		a.answers = make(map[uint8][]byte)
		go a.transmit(nil)
		return
	}

	wait := a.stall
	if missing := a.reassembler.Missing(); len(missing) == 0 || missing[len(missing)-1] < p.Index {
		wait = a.delay
	}
	a.arm(wait)
}

// isLateCopy reports whether payload repeats a retransmission already used
// to complete the previous chain.
func (a *acknowledger) isLateCopy(index uint8, payload []byte) bool {
	if a.completed == nil || time.Now().After(a.until) {
		return false
	}
	answer, ok := a.completed[index]
	return ok && bytes.Equal(answer, payload)
}

func (a *acknowledger) arm(d time.Duration) {
	if a.timer == nil {
		a.timer = time.AfterFunc(d, a.fire)
		return
	}
	a.timer.Reset(d)
}

func (a *acknowledger) fire() {
	missing := a.reassembler.Missing()
	if len(missing) == 0 {
		return
	}
	if len(missing) > a.maxMissing {
		missing = missing[:a.maxMissing]
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	for _, i := range missing {
		a.requested[i] = true
	}
	a.idle++
	if a.idle < maxIdleAcks {
		a.timer.Reset(a.stall)
	}
	a.mu.Unlock()

	a.transmit(missing)
}

func (a *acknowledger) transmit(missing []uint8) {
	a.logger.Debug("Sending acknowledgment", "missing", len(missing))
	if err := a.send(packet.EncodeAck(missing)); err != nil {
		a.logger.Warn("Failed to send acknowledgment", "error", err)
	}
}

func (a *acknowledger) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
}
