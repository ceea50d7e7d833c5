package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/rescp17/grillo/internal/app_events/sender"
	"github.com/rescp17/grillo/pkg/concurrency"
	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/message"
	"github.com/rescp17/grillo/pkg/modem"
	"github.com/rescp17/grillo/pkg/packet"
)

// ErrEmptyClipboard is returned when there is nothing to send from the clipboard.
var ErrEmptyClipboard = errors.New("clipboard is empty")

// Option configures an App.
type Option func(*App)

// WithClipboardReader replaces the system clipboard reader.
func WithClipboardReader(read func() (string, error)) Option {
	return func(a *App) {
		a.readClipboard = read
	}
}

// App is the main application logic controller for the sender. It sends
// one message at a time.
type App struct {
	serviceID     string
	modem         *modem.Modem
	guard         *concurrency.ConcurrencyGuard
	readClipboard func() (string, error)
	uiMessages    chan tea.Msg
}

// NewApp creates a sender on top of l.
func NewApp(l link.Link, modemOptions []modem.Option, options ...Option) (*App, error) {
	m, err := modem.New(l, modemOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create modem: %w", err)
	}

	a := &App{
		serviceID:     uuid.New().String(),
		modem:         m,
		guard:         concurrency.NewConcurrencyGuard(),
		readClipboard: clipboard.ReadAll,
		uiMessages:    make(chan tea.Msg, 10),
	}
	for _, option := range options {
		option(a)
	}
	return a, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// Modem returns the modem the app sends with.
func (a *App) Modem() *modem.Modem {
	return a.modem
}

// SendText sends text as a text message.
func (a *App) SendText(ctx context.Context, text string) error {
	return a.send(ctx, message.KindText, message.EncodeText(message.KindText, text))
}

// SendClipboard sends the contents of the clipboard.
func (a *App) SendClipboard(ctx context.Context) error {
	text, err := a.readClipboard()
	if err != nil {
		return fmt.Errorf("failed to read clipboard: %w", err)
	}
	if text == "" {
		return ErrEmptyClipboard
	}
	return a.send(ctx, message.KindClipboard, message.EncodeText(message.KindClipboard, text))
}

// SendFile sends the file at path.
func (a *App) SendFile(ctx context.Context, path string) error {
	f, err := message.ReadFile(path)
	if err != nil {
		return err
	}
	slog.Info("Sending file", "name", f.Name, "mime", f.MimeType, "size", f.Size, "checksum", f.Checksum)
	return a.send(ctx, message.KindFile, message.EncodeFile(f))
}

func (a *App) send(ctx context.Context, kind message.Kind, data []byte) error {
	return a.guard.Execute(func() error {
		chainLen := a.modem.ChainLen(len(data))
		slog.Info("Sending message", "sender", a.serviceID, "kind", kind.String(), "size", len(data), "chain_len", chainLen)
		a.notify(sender.SendStartedMsg{Kind: kind, Size: len(data), ChainLen: chainLen})

		if err := a.modem.SendMessage(ctx, data); err != nil {
			if errors.Is(err, packet.ErrMessageTooLong) {
				return fmt.Errorf("%s is too big to be sent, at most %d bytes fit: %w",
					kind, a.modem.MaxMessageSize()-1, err)
			}
			return fmt.Errorf("failed to send %s: %w", kind, err)
		}

		a.notify(sender.SendCompleteMsg{Kind: kind, Size: len(data)})
		return nil
	})
}

func (a *App) notify(msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	default:
		slog.Debug("UI busy, dropping update", "msg", fmt.Sprintf("%T", msg))
	}
}
