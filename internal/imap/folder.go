package imap

import (
	"context"
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ListFolders lists all folders on the server, sorted by name.
func (c *Connection) ListFolders(ctx context.Context) ([]string, error) {
	var folders []string

	err := c.do(ctx, opList, func(cl *client.Client) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)

		go func() {
			done <- cl.List("", "*", mailboxes)
		}()

		folders = folders[:0]
		for m := range mailboxes {
			folders = append(folders, m.Name)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(folders)
	return folders, nil
}

func (c *Connection) CreateFolder(ctx context.Context, name string) error {
	return c.do(ctx, opCreate, func(cl *client.Client) error {
		if err := cl.Create(name); err != nil {
			return fmt.Errorf("failed to create folder %q: %w", name, err)
		}
		return nil
	})
}

func (c *Connection) RenameFolder(ctx context.Context, from, to string) error {
	return c.do(ctx, opRename, func(cl *client.Client) error {
		if c.selected == from {
			// the server may refuse to rename the selected mailbox
			if err := cl.Close(); err != nil {
				return fmt.Errorf("failed to close folder %q: %w", from, err)
			}
			c.selected = ""
		}
		if err := cl.Rename(from, to); err != nil {
			return fmt.Errorf("failed to rename folder %q to %q: %w", from, to, err)
		}
		return nil
	})
}
