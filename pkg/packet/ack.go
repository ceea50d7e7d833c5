package packet

import (
	"errors"
	"fmt"
)

// AckMissing is the only header an acknowledgment may carry: the rest of
// the payload lists the sequence indices the receiver is still missing.
const AckMissing byte = 0

// ErrAckProtocol is returned when an acknowledgment carries an unknown header.
var ErrAckProtocol = errors.New("acknowledgment protocol error")

// EncodeAck builds an acknowledgment listing missing indices. An empty
// list tells the sender that nothing needs to be retransmitted.
func EncodeAck(missing []uint8) []byte {
	buf := make([]byte, 1+len(missing))
	buf[0] = AckMissing
	copy(buf[1:], missing)
	return buf
}

// DecodeAck returns the missing indices listed by an acknowledgment.
func DecodeAck(data []byte) ([]uint8, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty acknowledgment: %w", ErrMalformedPacket)
	}
	if data[0] != AckMissing {
		return nil, fmt.Errorf("unexpected header %d: %w", data[0], ErrAckProtocol)
	}
	missing := make([]uint8, len(data)-1)
	copy(missing, data[1:])
	return missing, nil
}
