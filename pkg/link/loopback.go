package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const loopbackQueueSize = 256

// DropFunc decides whether the packet sent by from is lost on its way to to.
type DropFunc func(from, to string, packet []byte) bool

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDropFunc simulates packet loss.
func WithDropFunc(drop DropFunc) BusOption {
	return func(b *Bus) {
		b.drop = drop
	}
}

// WithAirtime makes every Send block for d, like a modem playing a packet.
func WithAirtime(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.airtime = d
		}
	}
}

// WithMaxPacketSize sets the payload limit of every endpoint.
func WithMaxPacketSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.maxPacketSize = size
		}
	}
}

// Bus is an in-memory broadcast medium. Every endpoint hears the packets
// sent by every other endpoint, never its own.
type Bus struct {
	mu            sync.RWMutex
	endpoints     []*Endpoint
	drop          DropFunc
	airtime       time.Duration
	maxPacketSize int
}

// NewBus creates an empty bus.
func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		maxPacketSize: DefaultMaxPacketSize,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Endpoint attaches a new named endpoint to the bus.
func (b *Bus) Endpoint(name string) *Endpoint {
	e := &Endpoint{
		name:  name,
		bus:   b,
		queue: make(chan []byte, loopbackQueueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()

	e.wg.Add(1)
	go e.deliver()
	return e
}

func (b *Bus) detach(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.endpoints {
		if other == e {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}

func (b *Bus) broadcast(from *Endpoint, packet []byte) {
	b.mu.RLock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	b.mu.RUnlock()

	for _, to := range targets {
		if b.drop != nil && b.drop(from.name, to.name, packet) {
			slog.Debug("Loopback dropped packet", "from", from.name, "to", to.name, "size", len(packet))
			continue
		}
		to.enqueue(append([]byte(nil), packet...))
	}
}

// Endpoint is one station on a Bus. It implements Link.
type Endpoint struct {
	name      string
	bus       *Bus
	slot      Slot
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Link = (*Endpoint)(nil)

// Name returns the endpoint name given to Bus.Endpoint.
func (e *Endpoint) Name() string {
	return e.name
}

// Send broadcasts packet to the other endpoints after the bus airtime.
func (e *Endpoint) Send(ctx context.Context, packet []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	if len(packet) > e.bus.maxPacketSize {
		return fmt.Errorf("%d bytes, limit %d: %w", len(packet), e.bus.maxPacketSize, ErrPacketTooLarge)
	}

	if e.bus.airtime > 0 {
		timer := time.NewTimer(e.bus.airtime)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return ErrClosed
		}
	}

	e.bus.broadcast(e, packet)
	return nil
}

func (e *Endpoint) SetReceiver(r Receiver) {
	e.slot.Set(r)
}

func (e *Endpoint) MaxPacketSize() int {
	return e.bus.maxPacketSize
}

// Close detaches the endpoint and stops delivery. Queued packets are discarded.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
		close(e.done)
	})
	e.wg.Wait()
	return nil
}

func (e *Endpoint) enqueue(packet []byte) {
	select {
	case e.queue <- packet:
	case <-e.done:
	default:
		slog.Warn("Loopback queue full, dropping packet", "endpoint", e.name)
	}
}

func (e *Endpoint) deliver() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case packet := <-e.queue:
			e.slot.Deliver(packet, DefaultChannel)
		}
	}
}
