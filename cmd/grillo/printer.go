package main

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/grillo/internal/app_events"
	receiverEvent "github.com/rescp17/grillo/internal/app_events/receiver"
	senderEvent "github.com/rescp17/grillo/internal/app_events/sender"
	"github.com/rescp17/grillo/internal/style"
	"github.com/rescp17/grillo/internal/util"
	"github.com/rescp17/grillo/pkg/message"
)

const kindWidth = 10

func printStatus(w io.Writer, s string) {
	fmt.Fprintln(w, style.HelpStyle.Render(s))
}

func printWarning(w io.Writer, s string) {
	fmt.Fprintln(w, style.HighlightFontStyle.Render(s))
}

// printer renders app messages as plain lines for non interactive use.
type printer struct {
	out io.Writer
}

// followInBackground prints messages from ch until the returned stop
// function is called. stop prints whatever is still queued and returns once
// printing is done.
func (p printer) followInBackground(ch <-chan tea.Msg) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case msg := <-ch:
				p.print(msg)
			case <-quit:
				for {
					select {
					case msg := <-ch:
						p.print(msg)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}
}

func (p printer) print(msg tea.Msg) {
	switch msg := msg.(type) {
	case receiverEvent.ListeningMsg:
		line := fmt.Sprintf("Listening on %s", msg.Addr)
		if msg.Name != "" {
			line += " as " + msg.Name
		}
		if msg.Confirmation {
			line += " (confirmation on)"
		}
		fmt.Fprintln(p.out, style.TitleStyle.Render(line))
	case receiverEvent.MessageReceivedMsg:
		p.printRecord(msg.Record)
	case senderEvent.SendStartedMsg:
		printStatus(p.out, fmt.Sprintf("Sending %s, %s in %d packets...", msg.Kind, util.FormatSize(int64(msg.Size)), msg.ChainLen))
	case senderEvent.SendCompleteMsg:
		fmt.Fprintln(p.out, style.SuccessStyle.Render(fmt.Sprintf("Sent %s (%s)", msg.Kind, util.FormatSize(int64(msg.Size)))))
	case appevents.StatusMsg:
		printStatus(p.out, msg.Message)
	case appevents.ErrorMsg:
		fmt.Fprintln(p.out, style.ErrorStyle.Render(msg.Err.Error()))
	}
}

func (p printer) printRecord(r receiverEvent.Record) {
	kind := style.KindStyle.Render(util.PadRight(r.Kind.String(), kindWidth))
	switch r.Kind {
	case message.KindText:
		fmt.Fprintf(p.out, "%s Received text:\n%s\n", kind, r.Text)
	case message.KindClipboard:
		fmt.Fprintf(p.out, "%s Received clipboard contents, copied to your own clipboard :)\n", kind)
	case message.KindFile:
		fmt.Fprintf(p.out, "%s Received a file (%s, %s), saved to %s\n",
			kind, r.File.MimeType, util.FormatSize(r.File.Size), r.Path)
	}
}
