package models

import "time"

// Tag is a Kit tag as listed by the API.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Subscriber is the subset of a Kit subscriber record the bridge reads.
type Subscriber struct {
	ID        int64  `json:"id"`
	Email     string `json:"email_address"`
	FirstName string `json:"first_name"`
}

// ActionOutcome summarises what an event handler did.
type ActionOutcome string

const (
	OutcomeSkipped ActionOutcome = "skipped"
	OutcomeTagged  ActionOutcome = "tagged"
	OutcomeUpdated ActionOutcome = "updated"
	OutcomeFailed  ActionOutcome = "failed"
)

// ActionResult is returned by every event handler.
type ActionResult struct {
	Event        EventType     `json:"event"`
	Outcome      ActionOutcome `json:"outcome"`
	TagID        TagID         `json:"tag_id,omitempty"`
	SubscriberID int64         `json:"subscriber_id,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Err          error         `json:"-"`
}

// EventRecord is an audit row for one received lifecycle event.
type EventRecord struct {
	ID         string        `json:"id"`
	EventType  EventType     `json:"event_type"`
	Email      string        `json:"email"`
	Outcome    ActionOutcome `json:"outcome"`
	TagID      *string       `json:"tag_id,omitempty"`
	Error      *string       `json:"error,omitempty"`
	Payload    EventFields   `json:"payload"`
	ReceivedAt time.Time     `json:"received_at"`
}
