// Package message frames what grillo users send: a one byte kind followed
// by the payload, carried as a single modem message.
package message

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind tells the receiver what to do with a payload.
type Kind byte

const (
	KindText      Kind = 't'
	KindClipboard Kind = 'c'
	KindFile      Kind = 'f'
)

var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrEmptyMessage = errors.New("empty message")
	ErrInvalidText  = errors.New("text is not valid UTF-8")
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindClipboard:
		return "clipboard"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindText || k == KindClipboard || k == KindFile
}

// Message is a decoded grillo message.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Text returns the payload as a string, for text and clipboard messages.
func (m Message) Text() (string, error) {
	if !utf8.Valid(m.Payload) {
		return "", ErrInvalidText
	}
	return string(m.Payload), nil
}

// Encode prepends kind to payload.
func Encode(kind Kind, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(kind))
	return append(out, payload...)
}

// EncodeText frames a text or clipboard message.
func EncodeText(kind Kind, text string) []byte {
	return Encode(kind, []byte(text))
}

// Decode splits a received message into its kind and payload.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyMessage
	}
	kind := Kind(data[0])
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, data[0])
	}
	return Message{Kind: kind, Payload: data[1:]}, nil
}
