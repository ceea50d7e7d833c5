package receiver

import (
	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/packet"
)

// tap is a link that reports the header of every data packet before
// handing it to the registered receiver.
type tap struct {
	link.Link
	onPacket func(index, chainLen uint8)
}

func newTap(l link.Link, onPacket func(index, chainLen uint8)) *tap {
	return &tap{Link: l, onPacket: onPacket}
}

func (t *tap) SetReceiver(r link.Receiver) {
	if r == nil {
		t.Link.SetReceiver(nil)
		return
	}
	t.Link.SetReceiver(link.ReceiverFunc(func(payload []byte, channel int) {
		if p, err := packet.Decode(payload); err == nil && p.Validate() == nil {
			t.onPacket(p.Index, p.ChainLen)
		}
		r.OnReceived(payload, channel)
	}))
}
