package ui

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/grillo/internal/style"
	"github.com/rescp17/grillo/internal/util"
	"github.com/rescp17/grillo/pkg/message"
)

type PickerKeyMap struct {
	Up          key.Binding
	Down        key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Parent      key.Binding
	ToggleInput key.Binding
	Confirm     key.Binding
	Quit        key.Binding
}

var DefaultPickerKeyMap = PickerKeyMap{
	Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
	Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
	PageUp:      key.NewBinding(key.WithKeys("pgup", "left"), key.WithHelp("←", "page up")),
	PageDown:    key.NewBinding(key.WithKeys("pgdown", "right"), key.WithHelp("→", "page down")),
	Parent:      key.NewBinding(key.WithKeys("backspace", "h"), key.WithHelp("backspace", "parent")),
	ToggleInput: key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "type a path")),
	Confirm:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/send")),
	Quit:        key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
}

const (
	nameWidth = 36
	sizeWidth = 12
	typeWidth = 30
)

// FilePicker lets the user browse for the one file to send. Files too big
// for a single message can't be picked.
type FilePicker struct {
	dir            string
	items          []fs.DirEntry
	mimes          map[string]string
	cursor         int
	offset         int
	height         int
	maxMessageSize int
	keys           PickerKeyMap
	typing         bool
	input          textinput.Model
	err            error
	selected       string
}

// NewFilePicker opens a picker on dir.
func NewFilePicker(dir string, maxMessageSize int) (FilePicker, error) {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 80

	p := FilePicker{
		maxMessageSize: maxMessageSize,
		keys:           DefaultPickerKeyMap,
		input:          ti,
	}
	if err := p.open(dir); err != nil {
		return FilePicker{}, err
	}
	return p, nil
}

// Selected returns the picked file, empty if the user quit.
func (p FilePicker) Selected() string {
	return p.selected
}

func (p *FilePicker) open(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	items, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("could not read directory: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return items[i].Name() < items[j].Name()
	})

	p.dir = abs
	p.items = items
	p.mimes = make(map[string]string)
	p.cursor = 0
	p.offset = 0
	p.err = nil
	return nil
}

// choose opens a directory or selects a file.
func (p *FilePicker) choose(path string) tea.Cmd {
	info, err := os.Stat(path)
	if err != nil {
		p.err = fmt.Errorf("path does not exist: %s", path)
		return nil
	}
	if info.IsDir() {
		if err := p.open(path); err != nil {
			p.err = err
		}
		return nil
	}
	if !message.Fits(path, info.Size(), p.maxMessageSize) {
		p.err = fmt.Errorf("%s is too big to be sent (%s)", filepath.Base(path), util.FormatSize(info.Size()))
		return nil
	}
	p.selected = path
	return tea.Quit
}

func (p FilePicker) Init() tea.Cmd {
	return nil
}

func (p FilePicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.height = msg.Height
		return p, nil
	case tea.KeyMsg:
		if key.Matches(msg, p.keys.Quit) {
			if p.typing {
				p.typing = false
				p.input.Blur()
				p.input.Reset()
				return p, nil
			}
			return p, tea.Quit
		}
		if p.typing {
			return p.updateInput(msg)
		}
		return p.updateBrowse(msg)
	}
	return p, nil
}

func (p FilePicker) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, p.keys.Confirm) {
		path := p.input.Value()
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.dir, path)
		}
		p.typing = false
		p.input.Blur()
		p.input.Reset()
		cmd := p.choose(path)
		return p, cmd
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p FilePicker) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	visible := p.visibleItems()

	switch {
	case key.Matches(msg, p.keys.ToggleInput):
		p.typing = true
		p.input.Focus()
		return p, textinput.Blink
	case key.Matches(msg, p.keys.Up):
		p.moveCursor(-1, visible)
	case key.Matches(msg, p.keys.Down):
		p.moveCursor(1, visible)
	case key.Matches(msg, p.keys.PageUp):
		p.moveCursor(-visible, visible)
	case key.Matches(msg, p.keys.PageDown):
		p.moveCursor(visible, visible)
	case key.Matches(msg, p.keys.Parent):
		if err := p.open(filepath.Dir(p.dir)); err != nil {
			p.err = err
		}
	case key.Matches(msg, p.keys.Confirm):
		if len(p.items) == 0 {
			return p, nil
		}
		cmd := p.choose(filepath.Join(p.dir, p.items[p.cursor].Name()))
		return p, cmd
	}
	return p, nil
}

func (p *FilePicker) moveCursor(delta, visible int) {
	if len(p.items) == 0 {
		return
	}
	p.cursor = max(0, min(len(p.items)-1, p.cursor+delta))
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+visible {
		p.offset = p.cursor - visible + 1
	}
}

func (p *FilePicker) visibleItems() int {
	const headerHeight = 8
	if visible := p.height - headerHeight; visible > 0 {
		return visible
	}
	return 15
}

func (p FilePicker) mime(path string) string {
	if m, ok := p.mimes[path]; ok {
		return m
	}
	m := ""
	if detected, err := mimetype.DetectFile(path); err == nil {
		m = detected.String()
	}
	p.mimes[path] = m
	return m
}

func (p FilePicker) View() string {
	var s strings.Builder

	s.WriteString(style.TitleStyle.Render("Pick a file to send"))
	s.WriteString("\n")
	s.WriteString(p.helpView())
	s.WriteString("\n\n")

	if p.typing {
		s.WriteString(p.input.View())
		s.WriteString("\n\n")
	}
	fmt.Fprintf(&s, "Browsing: %s\n\n", p.dir)

	s.WriteString(style.HeaderStyle.Render(
		util.PadRight("", 2) + util.PadRight("Name", nameWidth) + util.PadRight("Size", sizeWidth) + util.PadRight("Type", typeWidth)))
	s.WriteString("\n")

	end := min(len(p.items), p.offset+p.visibleItems())
	for i := p.offset; i < end; i++ {
		item := p.items[i]
		path := filepath.Join(p.dir, item.Name())

		if i == p.cursor {
			s.WriteString(style.CursorStyle.String())
		} else {
			s.WriteString(style.NoCursorStyle.String())
		}

		if item.IsDir() {
			s.WriteString(style.DirStyle.Render(util.PadRight(item.Name()+"/", nameWidth)))
			s.WriteString("\n")
			continue
		}

		size := int64(0)
		if info, err := item.Info(); err == nil {
			size = info.Size()
		}
		row := util.PadRight(item.Name(), nameWidth) +
			util.PadRight(util.FormatSize(size), sizeWidth) +
			util.PadRight(p.mime(path), typeWidth)
		if message.Fits(item.Name(), size, p.maxMessageSize) {
			s.WriteString(style.FileStyle.Render(row))
		} else {
			s.WriteString(style.HelpStyle.Render(row))
		}
		s.WriteString("\n")
	}

	if len(p.items) > p.visibleItems() {
		fmt.Fprintf(&s, "\n... %d/%d ...\n", p.cursor+1, len(p.items))
	}
	if p.err != nil {
		s.WriteString("\n")
		s.WriteString(style.ErrorStyle.Render(p.err.Error()))
		s.WriteString("\n")
	}
	return s.String()
}

func (p FilePicker) helpView() string {
	return style.HelpStyle.Render(fmt.Sprintf("'%s' %s, '%s' %s, '%s' %s, '%s' %s",
		p.keys.Confirm.Help().Key, p.keys.Confirm.Help().Desc,
		p.keys.Parent.Help().Key, p.keys.Parent.Help().Desc,
		p.keys.ToggleInput.Help().Key, p.keys.ToggleInput.Help().Desc,
		p.keys.Quit.Help().Key, p.keys.Quit.Help().Desc,
	))
}
