package appevents

// AppEvent is a marker interface for events sent from the TUI to the App's logic controller.
// Only types embedding Event satisfy it.
type AppEvent interface {
	isAppEvent()
}

// Event can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the App's logic controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage can be embedded in other types to implement the AppUIMessage interface.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// ErrorMsg reports a failure the user should see. The app keeps running.
type ErrorMsg struct {
	UIMessage
	Err error
}

// StatusMsg is a one line status update.
type StatusMsg struct {
	UIMessage
	Message string
}

var (
	_ AppUIMessage = ErrorMsg{}
	_ AppUIMessage = StatusMsg{}
)
