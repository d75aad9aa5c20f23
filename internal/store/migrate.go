package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scoresync/internal/model"
)

// A migration moves the cache layout forward one schema version. Steps must
// be idempotent: re-running a completed step is a no-op.
type migration struct {
	version int
	run     func(*Store) error
}

// migrations are applied in order during Open for every version newer than
// the persisted one. The new schema version is persisted only after its step
// succeeds, so an interrupted migration re-runs on the next launch.
var migrations = []migration{
	{version: 2, run: migrateRecordsIntoSingleFile},
}

// migrate runs all pending migration steps, at most once per launch.
func (s *Store) migrate() error {
	from := s.meta.SchemaVersion
	for _, m := range migrations {
		if m.version <= from {
			continue
		}
		s.logger.Printf("Migrating cache schema v%d -> v%d", s.meta.SchemaVersion, m.version)
		if err := m.run(s); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", m.version, err)
		}
		s.meta.SchemaVersion = m.version
		if err := s.saveMetaLocked(); err != nil {
			return err
		}
	}
	return nil
}

// migrateRecordsIntoSingleFile merges the v1 per-match record files
// (records/<matchID>.json) into the single game_records.json collection.
func migrateRecordsIntoSingleFile(s *Store) error {
	legacyDir := filepath.Join(s.dir, "records")

	entries, err := os.ReadDir(legacyDir)
	if os.IsNotExist(err) {
		return nil // already migrated, or a fresh v1 cache with no records
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy records directory: %w", err)
	}

	all, err := s.LoadGameRecords()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(legacyDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read legacy record file %s: %w", entry.Name(), err)
		}

		matchID := strings.TrimSuffix(entry.Name(), ".json")

		var records []model.GameRecord
		if err := json.Unmarshal(data, &records); err != nil {
			s.logger.Printf("Warning: skipping unreadable legacy record file %s: %v", entry.Name(), err)
			continue
		}

		for _, r := range records {
			if r.MatchID != matchID {
				r.MatchID = matchID
			}
			all = append(all, r)
		}
	}

	if err := s.saveJSON(recordsFile, all); err != nil {
		return err
	}

	return os.RemoveAll(legacyDir)
}
