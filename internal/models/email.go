package models

import "time"

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

type Email struct {
	ID                string       `json:"id"`
	ThreadID          string       `json:"thread_id"`
	NaturalID         string       `json:"id_old"`
	Direction         Direction    `json:"email_type"`
	Subject           string       `json:"subject"`
	TimestampReceived time.Time    `json:"timestamp_received"`
	DateTime          time.Time    `json:"datetime_received"`
	StatusType        string       `json:"status_type"`
	StatusText        string       `json:"status_text"`
	Description       string       `json:"description,omitempty"`
	Content           []byte       `json:"-"`
	ContentHash       string       `json:"content_hash"`
	IMAPHeaders       string       `json:"imap_headers,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID         string `json:"id"`
	EmailID    string `json:"email_id"`
	Name       string `json:"name"`
	Filename   string `json:"filename"`
	Location   string `json:"location"`
	FileType   string `json:"filetype"`
	SizeBytes  int64  `json:"size"`
	StatusType string `json:"status_type"`
	Content    []byte `json:"-"`
}

const StatusTypeUnknown = "unknown"
