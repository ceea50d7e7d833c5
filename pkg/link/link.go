// Package link defines the boundary with the packet link underneath the
// transport (the acoustic modem) and provides link implementations that
// carry the same small packets in memory or over UDP.
package link

import (
	"context"
	"errors"
	"sync"
)

const (
	// DefaultMaxPacketSize matches the payload limit of the audio modem.
	DefaultMaxPacketSize = 32

	// DefaultChannel is reported by links that only have one channel.
	DefaultChannel = 0
)

var (
	// ErrClosed is returned when sending on a closed link.
	ErrClosed = errors.New("link closed")

	// ErrPacketTooLarge is returned when a packet exceeds the link's payload limit.
	ErrPacketTooLarge = errors.New("packet too large for link")

	// ErrNoPeer is returned when a link doesn't know where to send yet.
	ErrNoPeer = errors.New("no peer address")
)

// Receiver is notified for every packet the link hears. Notifications run
// on the link's own goroutine, so implementations must be safe to call
// concurrently with the rest of their API.
type Receiver interface {
	OnReceived(payload []byte, channel int)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(payload []byte, channel int)

func (f ReceiverFunc) OnReceived(payload []byte, channel int) {
	f(payload, channel)
}

// Link sends and receives single packets. Delivery is best effort and
// unordered.
type Link interface {
	// Send blocks until the link has accepted the packet for transmission.
	Send(ctx context.Context, packet []byte) error

	// SetReceiver replaces the registered receiver. nil unregisters it.
	SetReceiver(r Receiver)

	// MaxPacketSize is the largest payload Send accepts.
	MaxPacketSize() int

	Close() error
}

// Slot holds the single receiver registered on a link.
type Slot struct {
	mu       sync.RWMutex
	receiver Receiver
}

// Set replaces the current receiver.
func (s *Slot) Set(r Receiver) {
	s.mu.Lock()
	s.receiver = r
	s.mu.Unlock()
}

// Get returns the current receiver, or nil.
func (s *Slot) Get() Receiver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receiver
}

// Deliver hands payload to the current receiver and reports whether one
// was registered. The receiver runs outside the slot lock so it may
// replace itself.
func (s *Slot) Deliver(payload []byte, channel int) bool {
	r := s.Get()
	if r == nil {
		return false
	}
	r.OnReceived(payload, channel)
	return true
}
