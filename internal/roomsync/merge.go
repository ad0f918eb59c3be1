package roomsync

import (
	"github.com/mcdev12/sprintpoker/internal/recordstore"
)

// record is any store record addressed by its id.
type record interface {
	RecordID() string
}

// applyEvent merges one change into a collection, keyed by record id. The
// same merge serves the initial snapshot and later stream events, so the
// races between them (an event for a record already in the snapshot, a
// duplicate delivery, an auto-join landing before its create event) all
// collapse into idempotent upserts.
func applyEvent[T record](items []T, action recordstore.Action, rec T) []T {
	switch action {
	case recordstore.ActionCreate, recordstore.ActionUpdate:
		return upsertByID(items, rec)
	case recordstore.ActionDelete:
		return removeByID(items, rec.RecordID())
	default:
		return items
	}
}

func upsertByID[T record](items []T, rec T) []T {
	for i := range items {
		if items[i].RecordID() == rec.RecordID() {
			items[i] = rec
			return items
		}
	}
	return append(items, rec)
}

func removeByID[T record](items []T, id string) []T {
	out := items[:0]
	for _, item := range items {
		if item.RecordID() != id {
			out = append(out, item)
		}
	}
	return out
}
