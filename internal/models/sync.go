package models

import "time"

type FolderSyncStatus struct {
	FolderName          string     `json:"folder_name"`
	ThreadID            *string    `json:"thread_id,omitempty"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	LastAttemptedAt     *time.Time `json:"last_attempted_at,omitempty"`
	RequestedUpdateTime *time.Time `json:"requested_update_time,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type LogStatus string

const (
	LogStatusStarted LogStatus = "started"
	LogStatusSuccess LogStatus = "success"
	LogStatusInfo    LogStatus = "info"
	LogStatusError   LogStatus = "error"
)

type SyncLogEntry struct {
	ID          int64     `json:"id"`
	FolderName  string    `json:"folder_name"`
	Status      LogStatus `json:"status"`
	Message     string    `json:"message"`
	DebugOutput string    `json:"debug_output,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	UnmatchedErrorNoMatch        = "no_match"
	UnmatchedErrorMultipleMatch  = "multiple_matches"
	UnmatchedErrorAmbiguousOwner = "ambiguous_owner"
)

// UnmatchedMessageRecord is a message the router could not place, waiting
// for an operator to resolve or dismiss it.
type UnmatchedMessageRecord struct {
	ID                int64      `json:"id"`
	NaturalID         string     `json:"email_identifier"`
	Subject           string     `json:"email_subject"`
	Addresses         []string   `json:"email_addresses"`
	Folder            string     `json:"folder_name"`
	ErrorType         string     `json:"error_type"`
	ErrorMessage      string     `json:"error_message"`
	SuggestedThreadID *string    `json:"suggested_thread_id,omitempty"`
	Resolved          bool       `json:"resolved"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote    string     `json:"resolution_note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ManualRoutingOverride pins a natural identifier to a thread and beats
// address matching.
type ManualRoutingOverride struct {
	NaturalID   string    `json:"email_identifier"`
	ThreadID    string    `json:"thread_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type OutboundSendRequest struct {
	ID            string        `json:"id"`
	ThreadID      string        `json:"thread_id"`
	Status        SendingStatus `json:"status"`
	EmailTo       string        `json:"email_to"`
	EmailFrom     string        `json:"email_from"`
	EmailFromName string        `json:"email_from_name"`
	EmailSubject  string        `json:"email_subject"`
	EmailBody     string        `json:"email_body"`
	SMTPResponse  string        `json:"smtp_response,omitempty"`
	SMTPDebug     string        `json:"smtp_debug,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
