package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/grillo/internal/app_events"
	receiverEvent "github.com/rescp17/grillo/internal/app_events/receiver"
	"github.com/rescp17/grillo/internal/style"
	"github.com/rescp17/grillo/internal/util"
	"github.com/rescp17/grillo/pkg/message"
)

type KeyMap struct {
	Copy key.Binding
	Quit key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Copy: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy to clipboard")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var columns = []table.Column{
	{Title: "Time", Width: 10},
	{Title: "Kind", Width: 10},
	{Title: "Size", Width: 10},
	{Title: "Content", Width: 40},
}

type listenModel struct {
	spinner   spinner.Model
	table     table.Model
	records   []receiverEvent.Record
	info      receiverEvent.ListeningMsg
	listening bool
	outputDir string
	status    string

	chainLen uint8
	heard    map[uint8]bool
}

func initListenModel(outputDir string) listenModel {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(1),
	)
	t.SetStyles(style.NewTableStyles())

	return listenModel{
		spinner:   style.NewSpinner(),
		table:     t,
		outputDir: outputDir,
		heard:     make(map[uint8]bool),
	}
}

func (l *listenModel) addRecord(r receiverEvent.Record) {
	l.records = append(l.records, r)

	content := r.Text
	if r.Kind == message.KindFile {
		content = r.Path
	}
	l.table.SetRows(append(l.table.Rows(), table.Row{
		r.ReceivedAt.Format("15:04:05"),
		r.Kind.String(),
		util.FormatSize(int64(r.Size)),
		util.SingleLine(content),
	}))
	l.table.SetHeight(min(len(l.records), 10) + 1)
	l.table.GotoBottom()

	l.chainLen = 0
	l.heard = make(map[uint8]bool)
}

func (l *listenModel) addFragment(msg receiverEvent.FragmentMsg) {
	if msg.ChainLen != l.chainLen {
		l.chainLen = msg.ChainLen
		l.heard = make(map[uint8]bool)
	}
	l.heard[msg.Index] = true
}

func (l listenModel) selected() (receiverEvent.Record, bool) {
	i := l.table.Cursor()
	if i < 0 || i >= len(l.records) {
		return receiverEvent.Record{}, false
	}
	return l.records[i], true
}

func (m model) listenView() string {
	var b strings.Builder
	l := m.listen

	b.WriteString(style.TitleStyle.Render("grillo"))
	b.WriteString("\n\n")

	switch {
	case m.stopped:
		b.WriteString(style.SuccessStyle.Render("Done listening."))
		b.WriteString(" Press Enter to exit.\n")
	case !l.listening:
		fmt.Fprintf(&b, " %s Starting...\n", l.spinner.View())
	default:
		fmt.Fprintf(&b, " %s Listening on %s", l.spinner.View(), style.HighlightFontStyle.Render(l.info.Addr))
		if l.info.Name != "" {
			fmt.Fprintf(&b, " as %s", l.info.Name)
		}
		if l.info.Confirmation {
			b.WriteString(" (confirmation on)")
		}
		b.WriteString("\n")
		if l.chainLen > 0 {
			fmt.Fprintf(&b, "   receiving fragment %d of %d\n", len(l.heard), l.chainLen)
		}
	}

	if len(l.records) > 0 {
		b.WriteString("\n")
		b.WriteString(style.BaseStyle.Render(l.table.View()))
		b.WriteString("\n")
		if r, ok := l.selected(); ok && r.Kind != message.KindFile {
			b.WriteString(style.TextStyle.Render(r.Text))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Files are saved to %s\n", l.outputDir)
	}

	if l.status != "" {
		b.WriteString(style.HelpStyle.Render(l.status))
		b.WriteString("\n")
	}
	if m.lastError != nil {
		b.WriteString(style.ErrorStyle.Render(m.lastError.Error()))
		b.WriteString("\n")
	}

	help := fmt.Sprintf("  %s/%s  %s/%s",
		DefaultKeyMap.Copy.Help().Key, DefaultKeyMap.Copy.Help().Desc,
		DefaultKeyMap.Quit.Help().Key, DefaultKeyMap.Quit.Help().Desc,
	)
	b.WriteString(style.HelpStyle.Render(help))
	return style.DocStyle.Render(b.String())
}

func (m model) updateListen(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case appStoppedMsg:
		m.stopped = true
		if msg.err != nil {
			m.lastError = msg.err
		}
		return m, nil
	case receiverEvent.ListeningMsg:
		m.listen.info = msg
		m.listen.listening = true
		return m, m.listenForAppMessages()
	case receiverEvent.FragmentMsg:
		m.listen.addFragment(msg)
		return m, m.listenForAppMessages()
	case receiverEvent.MessageReceivedMsg:
		m.listen.addRecord(msg.Record)
		m.listen.status = fmt.Sprintf("Received %s (%s)", msg.Record.Kind, util.FormatSize(int64(msg.Record.Size)))
		m.lastError = nil
		return m, m.listenForAppMessages()
	case appevents.StatusMsg:
		m.listen.status = msg.Message
		return m, m.listenForAppMessages()
	case appevents.ErrorMsg:
		m.lastError = msg.Err
		return m, m.listenForAppMessages()
	}

	if m.stopped {
		return m, nil
	}
	var cmd tea.Cmd
	m.listen.spinner, cmd = m.listen.spinner.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DefaultKeyMap.Quit):
		m.cancel()
		return m, tea.Quit
	case m.stopped && msg.Type == tea.KeyEnter:
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, DefaultKeyMap.Copy):
		r, ok := m.listen.selected()
		if !ok || m.stopped {
			return m, nil
		}
		return m, m.sendEvent(receiverEvent.CopyToClipboardEvent{ID: r.ID})
	}

	var cmd tea.Cmd
	m.listen.table, cmd = m.listen.table.Update(msg)
	return m, cmd
}

// sendEvent hands an event to the app without blocking the UI.
func (m model) sendEvent(event appevents.AppEvent) tea.Cmd {
	return func() tea.Msg {
		select {
		case m.appController.AppEvents() <- event:
		case <-m.ctx.Done():
		}
		return nil
	}
}
