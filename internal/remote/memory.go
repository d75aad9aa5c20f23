package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and local development.
//
// It delivers a snapshot to every subscriber of a collection after each
// successful write, mirroring the behavior the core expects from the real
// backend. FailNextWrites injects transient write failures for retry tests.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	subscribers map[string][]chan Snapshot

	// failNextWrites makes the next N write operations fail with a
	// synthetic error.
	failNextWrites int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]map[string]json.RawMessage),
		subscribers: make(map[string][]chan Snapshot),
	}
}

// FailNextWrites makes the next n write operations (upsert, delete, batch)
// return an error, simulating a flaky remote.
func (m *MemStore) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextWrites = n
}

// Seed inserts a document without notifying subscribers, for test setup.
func (m *MemStore) Seed(collection, id string, doc json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs(collection)[id] = append(json.RawMessage(nil), doc...)
}

// Len returns the number of documents in a collection.
func (m *MemStore) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs(collection))
}

// Has reports whether a document exists.
func (m *MemStore) Has(collection, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs(collection)[id]
	return ok
}

// Collection implements Store.
func (m *MemStore) Collection(name string) Collection {
	return &memCollection{store: m, name: name}
}

// docs returns the backing map for a collection. Callers hold m.mu.
func (m *MemStore) docs(name string) map[string]json.RawMessage {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]json.RawMessage)
		m.collections[name] = c
	}
	return c
}

// snapshotLocked builds a sorted snapshot of one collection. Callers hold m.mu.
func (m *MemStore) snapshotLocked(name string) Snapshot {
	docs := m.docs(name)
	snap := Snapshot{Collection: name, Docs: make([]Doc, 0, len(docs))}
	for id, data := range docs {
		snap.Docs = append(snap.Docs, Doc{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })
	return snap
}

// notifyLocked fans the current snapshot out to subscribers. Callers hold
// m.mu. Sends never block; a slow subscriber just misses intermediate
// snapshots (each later snapshot supersedes earlier ones anyway).
func (m *MemStore) notifyLocked(name string) {
	snap := m.snapshotLocked(name)
	for _, ch := range m.subscribers[name] {
		select {
		case ch <- snap:
		default:
			// Drain the stale snapshot and replace it with the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// checkWriteLocked consumes one injected failure if armed. Callers hold m.mu.
func (m *MemStore) checkWriteLocked() error {
	if m.failNextWrites > 0 {
		m.failNextWrites--
		return fmt.Errorf("remote: injected write failure")
	}
	return nil
}

type memCollection struct {
	store *MemStore
	name  string
}

func (c *memCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	data, ok := c.store.docs(c.name)[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), data...), nil
}

func (c *memCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.store.checkWriteLocked(); err != nil {
		return err
	}
	c.store.docs(c.name)[id] = append(json.RawMessage(nil), doc...)
	c.store.notifyLocked(c.name)
	return nil
}

func (c *memCollection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.store.checkWriteLocked(); err != nil {
		return err
	}
	delete(c.store.docs(c.name), id)
	c.store.notifyLocked(c.name)
	return nil
}

func (c *memCollection) Query(ctx context.Context, field, value string) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var out []Doc
	for id, data := range c.store.docs(c.name) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			continue
		}
		var got string
		if raw, ok := fields[field]; ok {
			if err := json.Unmarshal(raw, &got); err != nil {
				continue
			}
		}
		if got == value {
			out = append(out, Doc{ID: id, Data: append(json.RawMessage(nil), data...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *memCollection) List(ctx context.Context) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.snapshotLocked(c.name).Docs, nil
}

func (c *memCollection) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan Snapshot, 1)

	c.store.mu.Lock()
	c.store.subscribers[c.name] = append(c.store.subscribers[c.name], ch)
	ch <- c.store.snapshotLocked(c.name)
	c.store.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.store.mu.Lock()
			subs := c.store.subscribers[c.name]
			for i, s := range subs {
				if s == ch {
					c.store.subscribers[c.name] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			c.store.mu.Unlock()
			// No sender can hold the channel once it is unregistered;
			// closing lets range-style consumers terminate.
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}

func (c *memCollection) BatchUpsert(ctx context.Context, docs []Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.store.checkWriteLocked(); err != nil {
		return err
	}
	m := c.store.docs(c.name)
	for _, d := range docs {
		m[d.ID] = append(json.RawMessage(nil), d.Data...)
	}
	c.store.notifyLocked(c.name)
	return nil
}

func (c *memCollection) BatchDelete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if err := c.store.checkWriteLocked(); err != nil {
		return err
	}
	m := c.store.docs(c.name)
	for _, id := range ids {
		delete(m, id)
	}
	c.store.notifyLocked(c.name)
	return nil
}
