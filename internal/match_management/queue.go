package match_management

import (
	"context"
	"encoding/json"

	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
	"peerprep/matching/internal/topics"
)

// WaitingQueue is the ordered list of users currently seeking a match,
// stored under the waitingUsers key. Arrival order is list order and
// is the matchmaking tie-break.
//
// Snapshot followed by Rewrite is NOT atomic: an entry enqueued by a
// concurrent request between the two calls is lost by the rewrite.
// This is a known weakness of the snapshot/rewrite design, exercised
// by TestQueue_SnapshotRewriteLosesConcurrentEnqueue.
type WaitingQueue struct {
	store *store.Store
}

func NewWaitingQueue(st *store.Store) *WaitingQueue {
	return &WaitingQueue{store: st}
}

// Enqueue appends one entry to the tail of the queue.
func (q *WaitingQueue) Enqueue(ctx context.Context, entry models.WaitingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.store.ListPush(ctx, store.KeyWaitingUsers, string(raw))
}

// Snapshot reads the entire queue. Entries whose stored topic differs
// from its re-normalized form are corrected and, if anything changed,
// the corrected list is written back; this self-heals entries created
// by older alias tables. Undecodable elements are dropped.
func (q *WaitingQueue) Snapshot(ctx context.Context) ([]models.WaitingEntry, error) {
	raws, err := q.store.ListAll(ctx, store.KeyWaitingUsers)
	if err != nil {
		return nil, err
	}

	entries := make([]models.WaitingEntry, 0, len(raws))
	changed := false
	for _, raw := range raws {
		var entry models.WaitingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			changed = true
			continue
		}
		if normalized := topics.Normalize(entry.Topic); normalized != entry.Topic {
			entry.Topic = normalized
			changed = true
		}
		entries = append(entries, entry)
	}

	if changed {
		if err := q.Rewrite(ctx, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Rewrite replaces the whole queue with the given entries (delete then
// re-push, in that order).
func (q *WaitingQueue) Rewrite(ctx context.Context, entries []models.WaitingEntry) error {
	raws := make([]string, 0, len(entries))
	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		raws = append(raws, string(raw))
	}
	return q.store.ListReplace(ctx, store.KeyWaitingUsers, raws)
}

// RemoveUser rewrites the queue without the given user's entries.
// Returns whether anything was removed.
func (q *WaitingQueue) RemoveUser(ctx context.Context, userID string) (bool, error) {
	entries, err := q.Snapshot(ctx)
	if err != nil {
		return false, err
	}

	remaining := make([]models.WaitingEntry, 0, len(entries))
	removed := false
	for _, entry := range entries {
		if entry.UserID == userID {
			removed = true
			continue
		}
		remaining = append(remaining, entry)
	}

	if !removed {
		return false, nil
	}
	return true, q.Rewrite(ctx, remaining)
}
