package syncer

import "testing"

func TestProjectState(t *testing.T) {
	tests := []struct {
		name        string
		online      bool
		working     bool
		backfillErr string
		want        State
	}{
		{name: "idle", online: true, want: StateIdle},
		{name: "working while online", online: true, working: true, want: StateSyncing},
		{name: "working beats offline", online: false, working: true, want: StateSyncing},
		{name: "offline", online: false, want: StateOffline},
		{name: "offline beats error", online: false, backfillErr: "boom", want: StateOffline},
		{name: "error", online: true, backfillErr: "boom", want: StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errMsg := projectState(tt.online, tt.working, tt.backfillErr)
			if got != tt.want {
				t.Errorf("projectState() = %s, want %s", got, tt.want)
			}
			if tt.want == StateError && errMsg != tt.backfillErr {
				t.Errorf("Expected error message %q, got %q", tt.backfillErr, errMsg)
			}
			if tt.want != StateError && errMsg != "" {
				t.Errorf("Expected no error message, got %q", errMsg)
			}
		})
	}
}

func TestProjectRecordsState(t *testing.T) {
	tests := []struct {
		name         string
		fullSyncDone bool
		backfilling  bool
		online       bool
		hasCache     bool
		backfillErr  string
		want         GameRecordsState
	}{
		{
			name: "fresh install offline",
			want: RecordsOffline,
		},
		{
			name:   "fresh install online",
			online: true,
			want:   RecordsLoading,
		},
		{
			name:        "first backfill running",
			backfilling: true,
			online:      true,
			want:        RecordsSyncing,
		},
		{
			name:        "first backfill failed",
			online:      true,
			backfillErr: "boom",
			want:        RecordsError,
		},
		{
			name:     "cache without full sync",
			online:   true,
			hasCache: true,
			want:     RecordsLocalOnly,
		},
		{
			name:     "cache without full sync offline",
			hasCache: true,
			want:     RecordsLocalOnly,
		},
		{
			name:         "cold start with trusted cache",
			fullSyncDone: true,
			hasCache:     true,
			want:         RecordsSynced,
		},
		{
			// A refresh backfill must not demote an already-trusted cache.
			name:         "refresh backfill keeps trust",
			fullSyncDone: true,
			backfilling:  true,
			online:       true,
			hasCache:     true,
			want:         RecordsSynced,
		},
		{
			// Stale but usable: trust survives a later backfill failure.
			name:         "failed refresh keeps trust",
			fullSyncDone: true,
			online:       true,
			hasCache:     true,
			backfillErr:  "boom",
			want:         RecordsSynced,
		},
		{
			name:         "trusted cache offline",
			fullSyncDone: true,
			hasCache:     true,
			online:       false,
			want:         RecordsSynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := projectRecordsState(tt.fullSyncDone, tt.backfilling, tt.online, tt.hasCache, tt.backfillErr)
			if got != tt.want {
				t.Errorf("projectRecordsState() = %s, want %s", got, tt.want)
			}
		})
	}
}
