package scan

import (
	"sort"
	"time"

	"golang.org/x/net/html"
)

// PendingRequest correlates an outstanding classify request with its
// element. The element is referenced, never owned: it may leave the page
// while the request is in flight.
type PendingRequest struct {
	ID     int64
	Node   *html.Node
	SentAt time.Time
}

// PendingTable is the correlation map of one coordinator. It is not safe
// for concurrent use; the coordinator touches it only from its loop.
type PendingTable struct {
	entries map[int64]PendingRequest
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[int64]PendingRequest)}
}

// Add records an outstanding request.
func (t *PendingTable) Add(r PendingRequest) {
	t.entries[r.ID] = r
}

// Resolve removes and returns the entry for id. A second call for the same
// id reports false.
func (t *PendingTable) Resolve(id int64) (PendingRequest, bool) {
	r, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return r, ok
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int {
	return len(t.entries)
}

// Expired returns requests sent at least timeout before now, oldest first.
// They stay in the table until resolved.
func (t *PendingTable) Expired(now time.Time, timeout time.Duration) []PendingRequest {
	if timeout <= 0 {
		return nil
	}
	var out []PendingRequest
	for _, r := range t.entries {
		if now.Sub(r.SentAt) >= timeout {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
