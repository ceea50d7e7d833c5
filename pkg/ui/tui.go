package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/grillo/internal/app_events"
)

// AppController is the logic behind a screen: the TUI reads its messages
// and sends it user events.
type AppController interface {
	Run(ctx context.Context) error
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

// appStoppedMsg is sent when the controller's Run returns.
type appStoppedMsg struct {
	err error
}

type model struct {
	ctx           context.Context
	cancel        context.CancelFunc
	appController AppController
	listen        listenModel
	stopped       bool
	lastError     error
}

// NewListenModel builds the listening screen around a receiver app.
func NewListenModel(ctx context.Context, app AppController, outputDir string) tea.Model {
	ctx, cancel := context.WithCancel(ctx)
	return model{
		ctx:           ctx,
		cancel:        cancel,
		appController: app,
		listen:        initListenModel(outputDir),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.listen.spinner.Tick,
		m.runApp(),
		m.listenForAppMessages(),
	)
}

// runApp runs the controller until it stops on its own or the UI quits.
func (m model) runApp() tea.Cmd {
	return func() tea.Msg {
		return appStoppedMsg{err: m.appController.Run(m.ctx)}
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.appController.UIMessages():
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) View() string {
	s := m.listenView()
	s += "\nPress ctrl + c to quit"
	return s
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m.updateListen(msg)
}
