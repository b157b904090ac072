package domain

import (
	"fmt"
	"time"
)

// Event is the one concrete object type this server creates. Events have
// their own inbox so actors can Join them.
type Event struct {
	Context      any        `json:"@context,omitempty"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Name         string     `json:"name"`
	AttributedTo string     `json:"attributedTo"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Inbox        string     `json:"inbox,omitempty"`
	Outbox       string     `json:"outbox,omitempty"`
	To           Addresses  `json:"to,omitempty"`
	Cc           Addresses  `json:"cc,omitempty"`
}

func (e *Event) GetID() string    { return e.ID }
func (e *Event) GetType() string  { return e.Type }
func (e *Event) GetInbox() string { return e.Inbox }

// NewLocalEvent builds an event hosted by actorURI under a fresh id.
func NewLocalEvent(base, id, name, actorURI string, start, end time.Time) *Event {
	uri := EventURI(base, id)
	start, end = start.UTC(), end.UTC()
	return &Event{
		Context:      ActivityStreamsContext,
		ID:           uri,
		Type:         "Event",
		Name:         name,
		AttributedTo: actorURI,
		StartTime:    &start,
		EndTime:      &end,
		Inbox:        EndpointURI(uri, Inbox),
		Outbox:       EndpointURI(uri, Outbox),
	}
}

func (e *Event) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tName: %s \n\tAttributedTo: %s)", e.ID, e.Name, e.AttributedTo)
}
