package scanning

import (
	"errors"
	"os"
)

// ErrNoWorkItems indicates a scan request arrived with an empty work list.
// It is surfaced before any dispatch so the caller can correct and resubmit.
var ErrNoWorkItems = errors.New("no work items to dispatch")

// WorkItem is one unit of scan input: an uploaded file spooled to disk.
// Each item is owned by exactly one batch and its backing file is released
// exactly once when dispatch of that item finishes.
type WorkItem struct {
	// FileName is the client-supplied name, used to key the item's result.
	FileName string
	// Path is the spooled temporary file backing the item.
	Path string
}

// Release deletes the item's backing file. It is safe to call on an item
// whose file was already removed.
func (w WorkItem) Release() error {
	if w.Path == "" {
		return nil
	}
	if err := os.Remove(w.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ChunkWorkItems partitions items into consecutive groups of at most size,
// preserving input order. A non-positive size yields a single group.
func ChunkWorkItems(items []WorkItem, size int) [][]WorkItem {
	if size <= 0 {
		size = len(items)
	}
	var groups [][]WorkItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end])
	}
	return groups
}
