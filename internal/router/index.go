package router

import (
	"sort"
	"strings"

	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/models"
)

// addressIndex maps identity addresses to the folders of the threads that use them.
type addressIndex struct {
	active   map[string]map[string]bool
	archived map[string][]string
}

func buildIndex(threads []*models.Thread, namer folders.Namer, dmarcAddress string) *addressIndex {
	idx := &addressIndex{
		active:   map[string]map[string]bool{},
		archived: map[string][]string{},
	}
	dmarc := strings.ToLower(strings.TrimSpace(dmarcAddress))

	for _, thread := range threads {
		addr := strings.ToLower(strings.TrimSpace(thread.MyEmail))
		if addr == "" {
			continue
		}

		if thread.Archived {
			idx.archived[addr] = append(idx.archived[addr], thread.ID)
			if dmarc == "" || addr != dmarc {
				continue
			}
		}

		if idx.active[addr] == nil {
			idx.active[addr] = map[string]bool{}
		}
		idx.active[addr][namer.FolderFor(thread.EntityID, thread)] = true
	}

	return idx
}

type matchResult struct {
	// folders holds the distinct candidate folders, sorted.
	folders []string
	// archivedThreadIDs holds archived threads whose identity appears, for suggestions.
	archivedThreadIDs []string
}

func (idx *addressIndex) match(addresses []string) matchResult {
	folderSet := map[string]bool{}
	archivedSet := map[string]bool{}

	for _, addr := range addresses {
		for folder := range idx.active[addr] {
			folderSet[folder] = true
		}
		for _, id := range idx.archived[addr] {
			archivedSet[id] = true
		}
	}

	var res matchResult
	for f := range folderSet {
		res.folders = append(res.folders, f)
	}
	for id := range archivedSet {
		res.archivedThreadIDs = append(res.archivedThreadIDs, id)
	}
	sort.Strings(res.folders)
	sort.Strings(res.archivedThreadIDs)
	return res
}

// known reports whether any thread, archived or not, uses addr.
func (idx *addressIndex) known(addr string) bool {
	_, active := idx.active[addr]
	_, archived := idx.archived[addr]
	return active || archived
}
