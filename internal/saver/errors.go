package saver

import (
	"fmt"
	"strings"
)

// AmbiguousMatchError means a message has no single owning thread. It
// aborts the message and the run: persistence needs exactly one owner.
type AmbiguousMatchError struct {
	NaturalID string
	Addresses []string
	ThreadIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	if len(e.ThreadIDs) == 0 {
		return fmt.Sprintf("no thread owns message %s (addresses: %s)", e.NaturalID, strings.Join(e.Addresses, ", "))
	}
	return fmt.Sprintf("message %s matches %d threads: %s", e.NaturalID, len(e.ThreadIDs), strings.Join(e.ThreadIDs, ", "))
}
