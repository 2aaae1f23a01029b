package flow

import "strings"

type EventKind string

const (
	EventText        EventKind = "text"
	EventInteractive EventKind = "interactive"
	EventOther       EventKind = "other"
)

// Event is one inbound message, already extracted from the provider
// envelope by the transport layer.
type Event struct {
	Sender string
	Kind   EventKind

	// Text is the message body (EventText).
	Text string

	// SelectionID is the chosen option id (EventInteractive).
	SelectionID string
}

func (e Event) valid() bool {
	return strings.TrimSpace(e.Sender) != ""
}
