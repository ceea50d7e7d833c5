// Package packet implements the wire format used to carry a message over a
// link that only moves small, unordered, best-effort packets.
//
// Every packet starts with a two byte header:
//
//	+--------------+--------------+----------------------+
//	| chain length | sequence idx |  fragment (DataLen)  |
//	+--------------+--------------+----------------------+
//
// The chain length is the number of packets the message was split into
// (1-255) and the sequence index is the zero-based position of this
// fragment in the chain.
package packet

import (
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the packet header in bytes.
	HeaderLen = 2

	// DefaultDataLen is the default maximum number of message bytes carried
	// by a single packet.
	DefaultDataLen = 30

	// MaxChainLen is the longest chain a header can describe.
	MaxChainLen = 255
)

var (
	// ErrMalformedPacket is returned when a payload can't hold a valid header.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrMessageTooLong is returned when a message needs more than MaxChainLen packets.
	ErrMessageTooLong = errors.New("message too long")
)

// Packet is a decoded packet.
type Packet struct {
	ChainLen uint8
	Index    uint8
	Fragment []byte
}

// Validate checks the header fields against each other.
func (p Packet) Validate() error {
	if p.ChainLen == 0 {
		return fmt.Errorf("chain length 0: %w", ErrMalformedPacket)
	}
	if p.Index >= p.ChainLen {
		return fmt.Errorf("index %d out of chain of %d: %w", p.Index, p.ChainLen, ErrMalformedPacket)
	}
	return nil
}

// Encode prepends the header to fragment. Callers guarantee index < chainLen.
func Encode(chainLen, index uint8, fragment []byte) []byte {
	buf := make([]byte, HeaderLen+len(fragment))
	buf[0] = chainLen
	buf[1] = index
	copy(buf[HeaderLen:], fragment)
	return buf
}

// Decode parses a packet. The returned fragment aliases data.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderLen {
		return Packet{}, fmt.Errorf("packet of %d bytes too small for header: %w", len(data), ErrMalformedPacket)
	}
	return Packet{
		ChainLen: data[0],
		Index:    data[1],
		Fragment: data[HeaderLen:],
	}, nil
}

// ChainLenFunc computes the number of packets needed for a message of size
// bytes when each packet carries at most dataLen bytes.
type ChainLenFunc func(size, dataLen int) int

// ChainLen is the exact ceiling of size/dataLen. An empty message still
// takes one (empty) packet.
func ChainLen(size, dataLen int) int {
	if size <= 0 {
		return 1
	}
	return (size + dataLen - 1) / dataLen
}

// LegacyChainLen reproduces the formula of the first deployed peers,
// size/dataLen + 1, which sends one extra empty packet when size is an
// exact multiple of dataLen. Only use it to talk to those peers.
func LegacyChainLen(size, dataLen int) int {
	return size/dataLen + 1
}

// MaxMessageSize returns the largest message that fits in MaxChainLen
// packets of dataLen bytes.
func MaxMessageSize(dataLen int, chainLen ChainLenFunc) int {
	if chainLen == nil {
		chainLen = ChainLen
	}
	size := MaxChainLen * dataLen
	for size > 0 && chainLen(size, dataLen) > MaxChainLen {
		size--
	}
	return size
}

// Fragment returns the slice of message carried by packet index. Indices
// past the end of the message yield an empty fragment.
func Fragment(message []byte, dataLen int, index int) []byte {
	start := index * dataLen
	if start >= len(message) {
		return nil
	}
	end := start + dataLen
	if end > len(message) {
		end = len(message)
	}
	return message[start:end]
}

// Split encodes message as a full chain of packets, in index order.
func Split(message []byte, dataLen int, chainLen ChainLenFunc) ([][]byte, error) {
	if dataLen <= 0 {
		return nil, fmt.Errorf("data length must be positive, got %d", dataLen)
	}
	if chainLen == nil {
		chainLen = ChainLen
	}

	n := chainLen(len(message), dataLen)
	if n > MaxChainLen {
		return nil, fmt.Errorf("%d bytes need %d packets, at most %d allowed: %w", len(message), n, MaxChainLen, ErrMessageTooLong)
	}

	packets := make([][]byte, n)
	for i := 0; i < n; i++ {
		packets[i] = Encode(uint8(n), uint8(i), Fragment(message, dataLen, i))
	}
	return packets, nil
}
