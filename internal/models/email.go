package models

import (
	"strings"
	"time"
)

type EmailStatus string

const (
	StatusPending   EmailStatus = "pending"
	StatusClaimed   EmailStatus = "claimed"
	StatusSent      EmailStatus = "sent"
	StatusFailed    EmailStatus = "failed"
	StatusCancelled EmailStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s EmailStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions maps a target status to the statuses it may be entered from.
var transitions = map[EmailStatus][]EmailStatus{
	StatusClaimed:   {StatusPending},
	StatusCancelled: {StatusPending},
	StatusSent:      {StatusPending, StatusClaimed},
	StatusFailed:    {StatusPending, StatusClaimed},
}

// SourcesFor returns the statuses a record must currently hold for a
// conditional update to `to` to apply. Nil means the target is unreachable.
func SourcesFor(to EmailStatus) []EmailStatus {
	return transitions[to]
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to EmailStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ScheduledEmail is one deferred send request and its lifecycle state.
type ScheduledEmail struct {
	ID         string `json:"id"`
	OwnerEmail string `json:"userEmail"`
	Recipient  string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`

	ScheduledTime time.Time   `json:"scheduledTime"`
	Status        EmailStatus `json:"status"`

	CreatedAt    time.Time  `json:"createdAt"`
	ClaimedAt    *time.Time `json:"-"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	// Credential is the vault token for the owner's bearer credential.
	// It never leaves the server.
	Credential string `json:"-"`
}

// Validate checks the fields required before a record may be persisted.
func (e *ScheduledEmail) Validate() error {
	switch {
	case strings.TrimSpace(e.OwnerEmail) == "":
		return &ValidationError{Field: "userEmail", Reason: "is required"}
	case strings.TrimSpace(e.Recipient) == "":
		return &ValidationError{Field: "to", Reason: "is required"}
	case strings.TrimSpace(e.Subject) == "":
		return &ValidationError{Field: "subject", Reason: "is required"}
	case e.ScheduledTime.IsZero():
		return &ValidationError{Field: "scheduledTime", Reason: "is required"}
	}
	return nil
}

// Outcome carries the fields written alongside a status transition.
type Outcome struct {
	At           time.Time
	ErrorMessage string
}
