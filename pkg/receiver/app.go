package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appevents "github.com/rescp17/grillo/internal/app_events"
	"github.com/rescp17/grillo/internal/app_events/receiver"
	"github.com/rescp17/grillo/pkg/discovery"
	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/message"
	"github.com/rescp17/grillo/pkg/modem"
)

// ErrNotText is returned when copying a received file to the clipboard.
var ErrNotText = errors.New("message is not text")

// Option configures an App.
type Option func(*App)

// WithForever keeps listening after the first message.
func WithForever(forever bool) Option {
	return func(a *App) {
		a.forever = forever
	}
}

// WithOutputDir sets where received files are saved.
func WithOutputDir(dir string) Option {
	return func(a *App) {
		a.outputDir = dir
	}
}

// WithAnnouncement publishes the listener over mDNS with the given adapter.
func WithAnnouncement(registrar discovery.Adapter, serviceType string, port int) Option {
	return func(a *App) {
		a.registrar = registrar
		a.serviceType = serviceType
		a.port = port
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) Option {
	return func(a *App) {
		a.writeClipboard = write
	}
}

// WithAddr sets the address shown to the user.
func WithAddr(addr string) Option {
	return func(a *App) {
		a.addr = addr
	}
}

// App is the main application logic controller for the listener. It turns
// completed modem messages into text, clipboard contents and files.
type App struct {
	modem          *modem.Modem
	registrar      discovery.Adapter
	serviceType    string
	port           int
	addr           string
	outputDir      string
	forever        bool
	writeClipboard func(string) error
	uiMessages     chan tea.Msg
	appEvents      chan appevents.AppEvent

	mu      sync.Mutex
	history []receiver.Record
}

// NewApp builds a listener on top of l. The modem is created with
// modemOptions on a link that also reports every fragment to the UI.
func NewApp(l link.Link, modemOptions []modem.Option, options ...Option) (*App, error) {
	a := &App{
		outputDir:      ".",
		writeClipboard: clipboard.WriteAll,
		uiMessages:     make(chan tea.Msg, 32),
		appEvents:      make(chan appevents.AppEvent),
	}
	for _, option := range options {
		option(a)
	}

	m, err := modem.New(newTap(l, a.onPacket), modemOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create modem: %w", err)
	}
	a.modem = m
	return a, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// History returns the messages handled so far, oldest first.
func (a *App) History() []receiver.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]receiver.Record(nil), a.history...)
}

// Run listens until ctx is done or, unless WithForever is set, until the
// first message has been handled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	name := ""
	if a.registrar != nil {
		name = a.serviceName()
		g.Go(func() error {
			return a.announce(ctx, name)
		})
	}

	received := make(chan []byte, 8)
	a.modem.ListenForMessages(func(msg []byte) {
		select {
		case received <- msg:
		case <-ctx.Done():
		}
	})
	defer a.modem.StopListening()

	slog.Info("Listening", "addr", a.addr, "confirmation", a.modem.ConfirmationEnabled(), "forever", a.forever)
	a.notify(ctx, receiver.ListeningMsg{Addr: a.addr, Name: name, Confirmation: a.modem.ConfirmationEnabled()})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-received:
				record, err := a.handleMessage(data)
				if err != nil {
					a.sendAndLogError(ctx, "Failed to handle message", err)
					continue
				}
				a.notify(ctx, receiver.MessageReceivedMsg{Record: record})
				if !a.forever {
					cancel()
					return nil
				}
			case event := <-a.appEvents:
				switch e := event.(type) {
				case receiver.CopyToClipboardEvent:
					if err := a.CopyToClipboard(e.ID); err != nil {
						a.sendAndLogError(ctx, "Failed to copy to clipboard", err)
						continue
					}
					a.notify(ctx, appevents.StatusMsg{Message: "Copied to clipboard"})
				default:
					slog.Warn("Received unhandled app event", "event", event)
				}
			}
		}
	})
	return g.Wait()
}

func (a *App) serviceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		slog.Warn("Could not get hostname", "error", err)
		hostname = "grillo"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

func (a *App) announce(ctx context.Context, name string) error {
	serviceInfo := discovery.ServiceInfo{
		Name:   name,
		Type:   a.serviceType,
		Domain: discovery.DefaultDomain,
		Port:   a.port,
		Text: map[string]string{
			"confirm":  strconv.FormatBool(a.modem.ConfirmationEnabled()),
			"data_len": strconv.Itoa(a.modem.DataLen()),
		},
	}
	if err := a.registrar.Announce(ctx, serviceInfo); err != nil {
		return fmt.Errorf("failed to start mDNS announcement: %w", err)
	}
	return nil
}

// handleMessage decodes a completed message and acts on it by kind.
func (a *App) handleMessage(data []byte) (receiver.Record, error) {
	msg, err := message.Decode(data)
	if err != nil {
		return receiver.Record{}, err
	}

	record := receiver.Record{
		ID:         uuid.New().String(),
		Kind:       msg.Kind,
		Size:       len(msg.Payload),
		ReceivedAt: time.Now(),
	}

	switch msg.Kind {
	case message.KindText:
		if record.Text, err = msg.Text(); err != nil {
			return receiver.Record{}, err
		}
		slog.Info("Received text", "id", record.ID, "size", record.Size)
	case message.KindClipboard:
		if record.Text, err = msg.Text(); err != nil {
			return receiver.Record{}, err
		}
		if err := a.writeClipboard(record.Text); err != nil {
			return receiver.Record{}, fmt.Errorf("failed to write clipboard: %w", err)
		}
		slog.Info("Received clipboard contents", "id", record.ID, "size", record.Size)
	case message.KindFile:
		f, err := message.DecodeFile(msg.Payload)
		if err != nil {
			return receiver.Record{}, err
		}
		path, err := message.Save(a.outputDir, f)
		if err != nil {
			return receiver.Record{}, err
		}
		record.File = &f
		record.Path = path
		slog.Info("Received file", "id", record.ID, "name", f.Name, "path", path, "mime", f.MimeType, "size", f.Size)
	}

	a.mu.Lock()
	a.history = append(a.history, record)
	a.mu.Unlock()
	return record, nil
}

// CopyToClipboard copies a received text or clipboard message.
func (a *App) CopyToClipboard(id string) error {
	a.mu.Lock()
	var found *receiver.Record
	for i := range a.history {
		if a.history[i].ID == id {
			found = &a.history[i]
			break
		}
	}
	a.mu.Unlock()

	if found == nil {
		return fmt.Errorf("no message with id %s", id)
	}
	if found.Kind == message.KindFile {
		return ErrNotText
	}
	return a.writeClipboard(found.Text)
}

// onPacket is called by the tap for every packet heard on the link.
func (a *App) onPacket(index, chainLen uint8) {
	select {
	case a.uiMessages <- receiver.FragmentMsg{Index: index, ChainLen: chainLen}:
	default:
		slog.Debug("UI busy, dropping fragment update", "index", index)
	}
}

func (a *App) notify(ctx context.Context, msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-ctx.Done():
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(ctx context.Context, baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.notify(ctx, appevents.ErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
