// Package store provides the durable local cache for the sync core.
//
// Each entity collection lives in a single JSON file that is always rewritten
// wholesale with write-to-temp-then-rename semantics, so a crash mid-write
// leaves either the old complete file or the new complete file, never a
// truncated one. Scalar metadata (schema version, last sync time, full-sync
// flag) lives in meta.json beside the collections.
//
// The store assumes a single writer per collection (the sync coordinator);
// its mutex exists so metadata updates and read-modify-write record caching
// do not tear, not to support concurrent writers.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scoresync/internal/model"
)

// SchemaVersion is the cache layout version written by this build.
// Open migrates older caches forward before returning.
const SchemaVersion = 2

const (
	playersFile = "players.json"
	matchesFile = "matches.json"
	recordsFile = "game_records.json"
	metaFile    = "meta.json"
)

// Meta holds the scalar cache metadata persisted in meta.json.
type Meta struct {
	SchemaVersion int `json:"schema_version"`

	// LastSync is when a full backfill last completed. Zero means never.
	LastSync time.Time `json:"last_sync"`

	// FullSyncDone is set true only after a complete backfill of all remote
	// game records has succeeded at least once. Once true, consumers trust
	// the local cache unconditionally for instant cold-start rendering.
	FullSyncDone bool `json:"full_sync_done"`
}

// Store is the file-backed local cache.
type Store struct {
	dir    string
	logger *log.Logger

	mu   sync.Mutex
	meta Meta
}

// Open creates or opens a cache directory and runs any pending schema
// migrations. The directory is created if it does not exist.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{dir: dir, logger: logger}

	if err := s.loadMeta(); err != nil {
		return nil, err
	}

	if s.meta.SchemaVersion < SchemaVersion {
		if err := s.migrate(); err != nil {
			return nil, fmt.Errorf("cache migration failed: %w", err)
		}
	}

	return s, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

// loadMeta reads meta.json, defaulting to a fresh current-version meta when
// the file does not exist (first run).
func (s *Store) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFile))
	if os.IsNotExist(err) {
		s.meta = Meta{SchemaVersion: SchemaVersion}
		return s.saveMetaLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read cache metadata: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to parse cache metadata: %w", err)
	}
	s.meta = meta
	return nil
}

// saveMetaLocked persists the in-memory meta. Callers hold s.mu or have
// exclusive access during Open.
func (s *Store) saveMetaLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}
	return s.writeAtomic(metaFile, data)
}

// Meta returns a copy of the current cache metadata.
func (s *Store) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetLastSync stamps the last successful full-sync time.
func (s *Store) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.LastSync = t
	return s.saveMetaLocked()
}

// SetFullSyncDone records whether a complete backfill has ever succeeded.
func (s *Store) SetFullSyncDone(done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.FullSyncDone = done
	return s.saveMetaLocked()
}

// HasCompletedFullSync reports whether a complete backfill has ever succeeded.
func (s *Store) HasCompletedFullSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.FullSyncDone
}

// writeAtomic writes data to name inside the cache directory via a temp file
// and rename, fsyncing before the rename so the new content is durable.
func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file for %s: %w", name, err)
	}
	return nil
}

// readCollection reads a collection file into individual raw items.
// A missing file yields an empty collection, not an error (first run).
func (s *Store) readCollection(name string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return items, nil
}

// SavePlayers overwrites the players collection atomically.
func (s *Store) SavePlayers(players []model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveJSON(playersFile, players)
}

// LoadPlayers returns every cached player. Items that fail to decode are
// skipped with a warning so one corrupt entry cannot block the collection.
func (s *Store) LoadPlayers() ([]model.Player, error) {
	items, err := s.readCollection(playersFile)
	if err != nil {
		return nil, err
	}

	var players []model.Player
	for i, raw := range items {
		var p model.Player
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Printf("Warning: skipping corrupt player at index %d: %v", i, err)
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

// SaveMatches overwrites the matches collection atomically.
func (s *Store) SaveMatches(matches []model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveJSON(matchesFile, matches)
}

// LoadMatches returns every cached match, skipping corrupt entries.
func (s *Store) LoadMatches() ([]model.Match, error) {
	items, err := s.readCollection(matchesFile)
	if err != nil {
		return nil, err
	}

	var matches []model.Match
	for i, raw := range items {
		var m model.Match
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Printf("Warning: skipping corrupt match at index %d: %v", i, err)
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// SaveGameRecords overwrites the entire game-records collection atomically.
func (s *Store) SaveGameRecords(records []model.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveJSON(recordsFile, records)
}

// LoadGameRecords returns every cached game record, skipping corrupt entries.
func (s *Store) LoadGameRecords() ([]model.GameRecord, error) {
	items, err := s.readCollection(recordsFile)
	if err != nil {
		return nil, err
	}

	var records []model.GameRecord
	for i, raw := range items {
		var r model.GameRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Printf("Warning: skipping corrupt game record at index %d: %v", i, err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// LoadGameRecordsFor returns the cached records belonging to one match,
// ordered by game index.
func (s *Store) LoadGameRecordsFor(matchID string) ([]model.GameRecord, error) {
	all, err := s.LoadGameRecords()
	if err != nil {
		return nil, err
	}

	var records []model.GameRecord
	for _, r := range all {
		if r.MatchID == matchID {
			records = append(records, r)
		}
	}
	sortRecordsByIndex(records)
	return records, nil
}

// CacheGameRecords replaces the cached records for one match: existing
// records for matchID are dropped and the new set is appended.
//
// Invariant repair: any incoming record whose MatchID disagrees with matchID
// is corrected before caching, so the cache never holds a record pointing at
// a match it is not filed under.
func (s *Store) CacheGameRecords(records []model.GameRecord, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.LoadGameRecords()
	if err != nil {
		return err
	}

	kept := all[:0]
	for _, r := range all {
		if r.MatchID != matchID {
			kept = append(kept, r)
		}
	}

	for _, r := range records {
		if r.MatchID != matchID {
			s.logger.Printf("Warning: repairing record %s match_id %q -> %q", r.ID, r.MatchID, matchID)
			r.MatchID = matchID
		}
		kept = append(kept, r)
	}

	return s.saveJSON(recordsFile, kept)
}

// HasGameRecordCache reports whether a game-records collection file exists
// at all. Used to distinguish "never loaded" from "loaded but empty".
func (s *Store) HasGameRecordCache() bool {
	_, err := os.Stat(filepath.Join(s.dir, recordsFile))
	return err == nil
}

// ClearAll removes every collection file and resets metadata to a fresh
// current-version state. Destructive; callers own the confirmation.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{playersFile, matchesFile, recordsFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	s.meta = Meta{SchemaVersion: SchemaVersion}
	return s.saveMetaLocked()
}

// saveJSON marshals v and writes it atomically under name. Callers hold s.mu.
func (s *Store) saveJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return s.writeAtomic(name, data)
}

// sortRecordsByIndex orders records by GameIndex ascending (insertion sort;
// matches are short).
func sortRecordsByIndex(records []model.GameRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].GameIndex < records[j-1].GameIndex; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
