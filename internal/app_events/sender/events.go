package sender

import (
	appevents "github.com/rescp17/grillo/internal/app_events"
	"github.com/rescp17/grillo/pkg/message"
)

// --- App to UI Messages ---

// SendStartedMsg is sent before the first packet goes out.
type SendStartedMsg struct {
	appevents.UIMessage
	Kind     message.Kind
	Size     int
	ChainLen int
}

// SendCompleteMsg is sent once the modem is done with a message.
type SendCompleteMsg struct {
	appevents.UIMessage
	Kind message.Kind
	Size int
}

var (
	_ appevents.AppUIMessage = SendStartedMsg{}
	_ appevents.AppUIMessage = SendCompleteMsg{}
)
