package syncer

import "time"

// State is the coarse sync status for display.
type State int

const (
	// StateIdle means nothing is in flight. Consumers show "synced" or a
	// pending count depending on PendingOps and Online.
	StateIdle State = iota
	// StateSyncing means the drain loop or a backfill is actively working.
	StateSyncing
	// StateOffline means the device is not connected; mutations queue up.
	StateOffline
	// StateError means the last backfill failed. Err carries the message.
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateOffline:
		return "offline"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// GameRecordsState is the finer-grained trust signal for the game-records
// collection, which is large enough that "can I trust what's on screen"
// needs more nuance than the coarse state.
type GameRecordsState int

const (
	// RecordsLoading means there is no local cache yet and no full sync has
	// ever completed; nothing trustworthy to show.
	RecordsLoading GameRecordsState = iota
	// RecordsLocalOnly means a cache exists but no full sync has ever
	// completed; data shown may be incomplete.
	RecordsLocalOnly
	// RecordsSyncing means a backfill is in flight.
	RecordsSyncing
	// RecordsSynced means a full sync has completed at least once; the
	// cache is trusted unconditionally, including stale-but-usable after a
	// later backfill failure.
	RecordsSynced
	// RecordsOffline means no cache, no completed sync, and no
	// connectivity to fetch one.
	RecordsOffline
	// RecordsError means a backfill failed before any ever succeeded.
	RecordsError
)

// String returns a human-readable representation of the records state.
func (s GameRecordsState) String() string {
	switch s {
	case RecordsLoading:
		return "loading"
	case RecordsLocalOnly:
		return "localOnly"
	case RecordsSyncing:
		return "syncing"
	case RecordsSynced:
		return "synced"
	case RecordsOffline:
		return "offline"
	case RecordsError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of sync progress, derived from coordinator
// state. It is safe to copy and hand to display surfaces.
type Status struct {
	State State  `json:"state"`
	Err   string `json:"error,omitempty"`

	// PendingOps counts mutations not yet confirmed by the remote store.
	PendingOps int `json:"pending_ops"`

	// ExhaustedOps counts permanently failed mutations kept for diagnostics.
	ExhaustedOps int `json:"exhausted_ops"`

	Online      bool             `json:"online"`
	GameRecords GameRecordsState `json:"game_records"`
	LastSync    time.Time        `json:"last_sync,omitzero"`
}

// projectState derives the coarse state from raw coordinator facts.
func projectState(online, working bool, backfillErr string) (State, string) {
	switch {
	case working:
		return StateSyncing, ""
	case !online:
		return StateOffline, ""
	case backfillErr != "":
		return StateError, backfillErr
	default:
		return StateIdle, ""
	}
}

// projectRecordsState derives the game-records trust signal.
//
// A completed full sync dominates everything: once FullSyncDone is true the
// cache is trusted even offline, even during a refresh backfill, and even
// after a later backfill failure (stale but usable).
func projectRecordsState(fullSyncDone, backfilling, online, hasCache bool, backfillErr string) GameRecordsState {
	if fullSyncDone {
		// A refresh backfill never demotes an already-trusted cache.
		return RecordsSynced
	}
	if backfilling {
		return RecordsSyncing
	}
	if backfillErr != "" {
		return RecordsError
	}
	if hasCache {
		return RecordsLocalOnly
	}
	if !online {
		return RecordsOffline
	}
	return RecordsLoading
}
