package imap

import (
	"context"
	"time"
)

// RawMessage is one message as fetched from the server, unparsed.
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Transport is the mailbox surface the sync engine needs. Every error it
// returns is a *TransportError.
type Transport interface {
	ListFolders(ctx context.Context) ([]string, error)
	CreateFolder(ctx context.Context, name string) error
	RenameFolder(ctx context.Context, from, to string) error
	// SearchUIDs returns all UIDs in folder, ascending.
	SearchUIDs(ctx context.Context, folder string) ([]uint32, error)
	FetchRaw(ctx context.Context, folder string, uid uint32) (*RawMessage, error)
	Move(ctx context.Context, folder string, uid uint32, target string) error
	Close() error
}

// Connector opens one logical session for a run.
type Connector interface {
	Connect(ctx context.Context) (Transport, error)
}

var (
	_ Transport = (*Connection)(nil)
	_ Connector = (*Dialer)(nil)
)
