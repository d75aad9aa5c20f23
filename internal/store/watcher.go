package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Collection identifies which cached collection a watch event touched.
type Collection int

const (
	// CollectionPlayers is the players cache file.
	CollectionPlayers Collection = iota
	// CollectionMatches is the matches cache file.
	CollectionMatches
	// CollectionGameRecords is the game-records cache file.
	CollectionGameRecords
)

// String returns a human-readable representation of the collection.
func (c Collection) String() string {
	switch c {
	case CollectionPlayers:
		return "players"
	case CollectionMatches:
		return "matches"
	case CollectionGameRecords:
		return "gameRecords"
	default:
		return "unknown"
	}
}

// CacheEvent reports that a cache collection file changed on disk.
type CacheEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Collection is the cached collection the file belongs to.
	Collection Collection
}

// Watcher watches the cache directory for changes made outside this process
// (another instance, a file-syncing service, a manual edit) so the owner can
// re-hydrate in-memory state. It uses fsnotify for cross-platform file
// system event monitoring.
//
// The coordinator's own writes also produce events; consumers are expected
// to treat re-hydration as cheap and idempotent rather than distinguish the
// writer.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan CacheEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a cache-directory watcher. The watcher must be started
// with Start before it emits events.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		events:  make(chan CacheEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the cache directory for collection file changes.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.dir = dir
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch cache directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel that emits CacheEvent notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan CacheEvent {
	return w.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// processEvents converts fsnotify events into CacheEvent notifications.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if cacheEvent, ok := w.convertEvent(event); ok {
				select {
				case w.events <- cacheEvent:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event onto a cache collection.
// Returns (CacheEvent{}, false) for events that should be ignored: temp
// files from atomic writes, meta.json, chmod noise.
func (w *Watcher) convertEvent(event fsnotify.Event) (CacheEvent, bool) {
	// Writes land via rename, so Create and Rename matter as much as Write.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return CacheEvent{}, false
	}

	var collection Collection
	switch filepath.Base(event.Name) {
	case playersFile:
		collection = CollectionPlayers
	case matchesFile:
		collection = CollectionMatches
	case recordsFile:
		collection = CollectionGameRecords
	default:
		return CacheEvent{}, false
	}

	return CacheEvent{Path: event.Name, Collection: collection}, true
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
