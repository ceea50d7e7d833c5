package receiver

import (
	"time"

	appevents "github.com/rescp17/grillo/internal/app_events"
	"github.com/rescp17/grillo/pkg/message"
)

// Record is a message the listener has handled.
type Record struct {
	ID         string
	Kind       message.Kind
	Size       int
	Text       string // text and clipboard messages
	File       *message.File
	Path       string // where a file was saved
	ReceivedAt time.Time
}

// --- UI to App Events ---

// CopyToClipboardEvent asks the app to copy a received text to the clipboard.
type CopyToClipboardEvent struct {
	appevents.Event
	ID string
}

var _ appevents.AppEvent = CopyToClipboardEvent{}

// --- App to UI Messages ---

// ListeningMsg is sent once the modem is listening.
type ListeningMsg struct {
	appevents.UIMessage
	Addr         string
	Name         string // mDNS instance name, empty when not announced
	Confirmation bool
}

// FragmentMsg is sent for every packet heard on the link.
type FragmentMsg struct {
	appevents.UIMessage
	Index    uint8
	ChainLen uint8
}

// MessageReceivedMsg carries a handled message.
type MessageReceivedMsg struct {
	appevents.UIMessage
	Record Record
}

var (
	_ appevents.AppUIMessage = ListeningMsg{}
	_ appevents.AppUIMessage = FragmentMsg{}
	_ appevents.AppUIMessage = MessageReceivedMsg{}
)
