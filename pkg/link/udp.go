package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rescp17/grillo/pkg/packet"
)

const (
	// DefaultWriteTimeout bounds a UDP write when the context has no deadline.
	DefaultWriteTimeout = 5 * time.Second

	udpReadBufferSize = 2048
)

// UDPOption configures a UDP link.
type UDPOption func(*UDP)

// WithUDPMaxPacketSize sets the payload limit, normally the modem's.
func WithUDPMaxPacketSize(size int) UDPOption {
	return func(u *UDP) {
		if size > 0 {
			u.maxPacketSize = size
		}
	}
}

// WithUDPChannel sets the channel id reported to receivers.
func WithUDPChannel(channel int) UDPOption {
	return func(u *UDP) {
		u.channel = channel
	}
}

// WithWriteTimeout sets the write timeout used when ctx has no deadline.
func WithWriteTimeout(timeout time.Duration) UDPOption {
	return func(u *UDP) {
		if timeout > 0 {
			u.writeTimeout = timeout
		}
	}
}

// UDP carries modem-sized packets as UDP datagrams between two stations.
// When no peer is configured the link learns it from the first datagram
// and follows whoever starts a new chain after that, so a stray datagram
// only redirects acknowledgments until the sender's next message.
type UDP struct {
	conn          *net.UDPConn
	slot          Slot
	maxPacketSize int
	channel       int
	writeTimeout  time.Duration

	peerMu    sync.RWMutex
	peer      *net.UDPAddr
	learnPeer bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Link = (*UDP)(nil)

// NewUDP listens on listenAddr and sends to peerAddr, which may be empty.
func NewUDP(listenAddr, peerAddr string, options ...UDPOption) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}

	u := &UDP{
		maxPacketSize: DefaultMaxPacketSize,
		channel:       DefaultChannel,
		writeTimeout:  DefaultWriteTimeout,
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(u)
	}

	if peerAddr != "" {
		if err := u.SetPeer(peerAddr); err != nil {
			return nil, err
		}
	} else {
		u.learnPeer = true
	}

	u.conn, err = net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP listener: %w", err)
	}

	u.wg.Add(1)
	go u.readLoop()

	slog.Info("UDP link started", "listen", u.conn.LocalAddr().String(), "peer", peerAddr)
	return u, nil
}

// SetPeer fixes the destination of future packets. The link stops learning
// its peer from incoming datagrams.
func (u *UDP) SetPeer(addr string) error {
	peer, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve peer address: %w", err)
	}
	u.peerMu.Lock()
	u.peer = peer
	u.learnPeer = false
	u.peerMu.Unlock()
	return nil
}

// Peer returns the current destination, or nil.
func (u *UDP) Peer() *net.UDPAddr {
	u.peerMu.RLock()
	defer u.peerMu.RUnlock()
	return u.peer
}

// LocalAddr returns the address the link listens on.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

func (u *UDP) Send(ctx context.Context, packet []byte) error {
	select {
	case <-u.done:
		return ErrClosed
	default:
	}

	if len(packet) > u.maxPacketSize {
		return fmt.Errorf("%d bytes, limit %d: %w", len(packet), u.maxPacketSize, ErrPacketTooLarge)
	}

	peer := u.Peer()
	if peer == nil {
		return ErrNoPeer
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(u.writeTimeout)
	}
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := u.conn.WriteToUDP(packet, peer); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

func (u *UDP) SetReceiver(r Receiver) {
	u.slot.Set(r)
}

func (u *UDP) MaxPacketSize() int {
	return u.maxPacketSize
}

func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, udpReadBufferSize)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("UDP link read failed", "error", err)
			continue
		}

		if n > u.maxPacketSize {
			slog.Warn("Dropping oversized datagram", "from", from.String(), "size", n, "limit", u.maxPacketSize)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		u.learn(from, payload)
		u.slot.Deliver(payload, u.channel)
	}
}

// learn adopts from as the peer when none is known yet, or when payload
// opens a new chain from another address.
func (u *UDP) learn(from *net.UDPAddr, payload []byte) {
	u.peerMu.Lock()
	defer u.peerMu.Unlock()
	if !u.learnPeer {
		return
	}
	if u.peer != nil && (u.peer.String() == from.String() || !startsChain(payload)) {
		return
	}
	slog.Info("Learned UDP peer", "peer", from.String(), "previous", u.peer)
	u.peer = from
}

func startsChain(payload []byte) bool {
	p, err := packet.Decode(payload)
	return err == nil && p.Validate() == nil && p.Index == 0
}
