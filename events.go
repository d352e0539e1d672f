package lolo

import "fmt"

// EventStatus identifies the kind of event emitted during a mention request.
type EventStatus string

const (
	// EventProcessing is an intermediate status update; zero or more per request.
	EventProcessing EventStatus = "processing"
	// EventSuccess is the terminal frame carrying the final IRC-safe message.
	EventSuccess EventStatus = "success"
	// EventNull is the terminal frame for an explicit decision not to speak.
	EventNull EventStatus = "null"
	// EventError is the terminal frame for a failed request.
	EventError EventStatus = "error"
)

// Event is one frame of the orchestrator's output stream. Consumers read
// until they see a terminal frame (anything other than processing).
type Event struct {
	Status  EventStatus `json:"status"`
	Message string      `json:"message"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool { return e.Status != EventProcessing }

func Processing(msg string) Event { return Event{Status: EventProcessing, Message: msg} }

func Success(msg string) Event { return Event{Status: EventSuccess, Message: msg} }

// NullEvent is the explicit-silence terminal frame. Message is always empty.
func NullEvent() Event { return Event{Status: EventNull} }

func Errorf(format string, args ...any) Event {
	return Event{Status: EventError, Message: fmt.Sprintf(format, args...)}
}
