// Package imaptest provides an in-memory imap.Transport for tests.
package imaptest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/offpost/mailsync/internal/imap"
)

type message struct {
	uid          uint32
	internalDate time.Time
	body         []byte
}

// Fake is a goroutine-safe in-memory mailbox. Errors returned by the hook
// functions are passed through as transient TransportErrors unless they
// already are TransportErrors.
type Fake struct {
	mu      sync.Mutex
	folders map[string][]message
	nextUID uint32
	closed  bool

	MoveHook   func(folder string, uid uint32, target string) error
	FetchHook  func(folder string, uid uint32) error
	RenameHook func(from, to string) error

	Moves   []Move
	Renames [][2]string
	Created []string
}

// Move records one successful Move call.
type Move struct {
	From   string
	UID    uint32
	Target string
}

var _ imap.Transport = (*Fake)(nil)

func New(folders ...string) *Fake {
	f := &Fake{folders: map[string][]message{}, nextUID: 1}
	for _, name := range folders {
		f.folders[name] = nil
	}
	return f
}

// Connector returns an imap.Connector handing out f on every Connect.
func (f *Fake) Connector() imap.Connector {
	return connector{f}
}

type connector struct{ f *Fake }

func (c connector) Connect(context.Context) (imap.Transport, error) {
	return c.f, nil
}

// Add appends a raw message to folder, creating it if needed, and returns its UID.
func (f *Fake) Add(folder string, raw []byte, internalDate time.Time) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	uid := f.nextUID
	f.nextUID++
	f.folders[folder] = append(f.folders[folder], message{uid: uid, internalDate: internalDate, body: raw})
	return uid
}

// Count returns the number of messages in folder.
func (f *Fake) Count(folder string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.folders[folder])
}

func (f *Fake) HasFolder(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.folders[name]
	return ok
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*imap.TransportError); ok {
		return te
	}
	return &imap.TransportError{Op: op, Kind: imap.Transient, Attempts: 1, Err: err}
}

func missing(op, folder string) error {
	return &imap.TransportError{Op: op, Kind: imap.Terminal, Attempts: 1,
		Err: fmt.Errorf("%w: %s", imap.ErrMailboxNotFound, folder)}
}

func (f *Fake) ListFolders(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.folders))
	for name := range f.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) CreateFolder(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.folders[name]; ok {
		return wrap("create", fmt.Errorf("folder %s already exists", name))
	}
	f.folders[name] = nil
	f.Created = append(f.Created, name)
	return nil
}

func (f *Fake) RenameFolder(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RenameHook != nil {
		if err := f.RenameHook(from, to); err != nil {
			return wrap("rename", err)
		}
	}
	msgs, ok := f.folders[from]
	if !ok {
		return missing("rename", from)
	}
	delete(f.folders, from)
	f.folders[to] = msgs
	f.Renames = append(f.Renames, [2]string{from, to})
	return nil
}

func (f *Fake) SearchUIDs(_ context.Context, folder string) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs, ok := f.folders[folder]
	if !ok {
		return nil, missing("select", folder)
	}
	uids := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		uids = append(uids, m.uid)
	}
	return uids, nil
}

func (f *Fake) FetchRaw(_ context.Context, folder string, uid uint32) (*imap.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FetchHook != nil {
		if err := f.FetchHook(folder, uid); err != nil {
			return nil, wrap("fetch", err)
		}
	}
	msgs, ok := f.folders[folder]
	if !ok {
		return nil, missing("select", folder)
	}
	for _, m := range msgs {
		if m.uid == uid {
			return &imap.RawMessage{UID: uid, InternalDate: m.internalDate, Body: m.body}, nil
		}
	}
	return nil, &imap.TransportError{Op: "fetch", Kind: imap.Terminal, Attempts: 1,
		Err: fmt.Errorf("%w: uid %d", imap.ErrMessageNotFound, uid)}
}

func (f *Fake) Move(_ context.Context, folder string, uid uint32, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.MoveHook != nil {
		if err := f.MoveHook(folder, uid, target); err != nil {
			return wrap("move", err)
		}
	}
	msgs, ok := f.folders[folder]
	if !ok {
		return missing("select", folder)
	}
	if _, ok := f.folders[target]; !ok {
		return wrap("move", fmt.Errorf("target %s does not exist", target))
	}
	for i, m := range msgs {
		if m.uid == uid {
			f.folders[folder] = append(msgs[:i:i], msgs[i+1:]...)
			f.folders[target] = append(f.folders[target], m)
			f.Moves = append(f.Moves, Move{From: folder, UID: uid, Target: target})
			return nil
		}
	}
	return &imap.TransportError{Op: "move", Kind: imap.Terminal, Attempts: 1,
		Err: fmt.Errorf("%w: uid %d", imap.ErrMessageNotFound, uid)}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
