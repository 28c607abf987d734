package imap

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// SearchUIDs returns every UID in folder in ascending order.
func (c *Connection) SearchUIDs(ctx context.Context, folder string) ([]uint32, error) {
	var uids []uint32

	err := c.do(ctx, opSearch, func(cl *client.Client) error {
		if err := c.selectFolder(cl, folder); err != nil {
			return err
		}

		found, err := cl.UidSearch(imap.NewSearchCriteria())
		if err != nil {
			return fmt.Errorf("failed to search %q: %w", folder, err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchRaw fetches the full RFC 822 message without setting \Seen.
func (c *Connection) FetchRaw(ctx context.Context, folder string, uid uint32) (*RawMessage, error) {
	var raw *RawMessage

	err := c.do(ctx, opFetch, func(cl *client.Client) error {
		if err := c.selectFolder(cl, folder); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{
			section.FetchItem(),
			imap.FetchInternalDate,
			imap.FetchUid,
		}

		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)

		go func() {
			done <- cl.UidFetch(seqSet, items, messages)
		}()

		var msg *imap.Message
		for m := range messages {
			if msg == nil {
				msg = m
			}
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch message %d: %w", uid, err)
		}
		if msg == nil {
			return fmt.Errorf("%w: uid %d in %q", ErrMessageNotFound, uid, folder)
		}

		literal := msg.GetBody(section)
		if literal == nil {
			return fmt.Errorf("%w: uid %d in %q has no body", ErrMessageNotFound, uid, folder)
		}

		body, err := io.ReadAll(literal)
		if err != nil {
			return fmt.Errorf("failed to read message %d: %w", uid, err)
		}

		raw = &RawMessage{UID: uid, InternalDate: msg.InternalDate, Body: body}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// Move moves uid from folder to target.
func (c *Connection) Move(ctx context.Context, folder string, uid uint32, target string) error {
	return c.do(ctx, opMove, func(cl *client.Client) error {
		if err := c.selectFolder(cl, folder); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		if err := cl.UidMove(seqSet, target); err != nil {
			return fmt.Errorf("failed to move message %d to %q: %w", uid, target, err)
		}
		return nil
	})
}
