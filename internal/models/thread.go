package models

import (
	"slices"
	"sort"
	"time"
)

// SendingStatus is the outbound lifecycle state of a thread or a queued sending.
type SendingStatus string

const (
	SendingStatusStaging         SendingStatus = "STAGING"
	SendingStatusReadyForSending SendingStatus = "READY_FOR_SENDING"
	SendingStatusSending         SendingStatus = "SENDING"
	SendingStatusSent            SendingStatus = "SENT"
)

// CanTransitionTo reports whether moving from s to next is a legal edge.
// SENT is absorbing, and SENDING may only fall back to READY_FOR_SENDING.
func (s SendingStatus) CanTransitionTo(next SendingStatus) bool {
	switch s {
	case SendingStatusStaging:
		return next == SendingStatusReadyForSending
	case SendingStatusReadyForSending:
		return next == SendingStatusSending
	case SendingStatusSending:
		return next == SendingStatusSent || next == SendingStatusReadyForSending
	default:
		return false
	}
}

func (s SendingStatus) Valid() bool {
	switch s {
	case SendingStatusStaging, SendingStatusReadyForSending, SendingStatusSending, SendingStatusSent:
		return true
	}
	return false
}

const LabelUnclassified = "unclassified"

type Thread struct {
	ID            string        `json:"id"`
	EntityID      string        `json:"entity_id"`
	Title         string        `json:"title"`
	MyName        string        `json:"my_name"`
	MyEmail       string        `json:"my_email"`
	SendingStatus SendingStatus `json:"sending_status"`
	Labels        []string      `json:"labels"`
	Archived      bool          `json:"archived"`
	SentComment   string        `json:"sent_comment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Emails        []Email       `json:"emails,omitempty"`
}

func (t *Thread) HasLabel(label string) bool {
	return slices.Contains(t.Labels, label)
}

// AddLabel appends label if absent and reports whether it changed anything.
func (t *Thread) AddLabel(label string) bool {
	if t.HasLabel(label) {
		return false
	}
	t.Labels = append(t.Labels, label)
	return true
}

// AppendEmail adds e and keeps Emails ordered by receive time.
func (t *Thread) AppendEmail(e Email) {
	t.Emails = append(t.Emails, e)
	sort.SliceStable(t.Emails, func(i, j int) bool {
		return t.Emails[i].TimestampReceived.Before(t.Emails[j].TimestampReceived)
	})
}

// Entity is a public body that threads correspond with. Read only.
type Entity struct {
	ID    string `json:"entity_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
