package roomsync

import (
	"errors"
)

// ErrRoomExpired reports that the fetched room's advisory expiry timestamp
// is in the past. It is a terminal, non-retryable condition: the session
// ends during loading and no subscriptions are opened.
var ErrRoomExpired = errors.New("room expired")

// ErrSessionReplaced reports that a newer activation superseded this
// session while it was still loading. The late session's results are
// discarded rather than applied.
var ErrSessionReplaced = errors.New("session replaced by a newer activation")
