// Package syncer contains the sync coordinator: the single orchestration
// point between the local cache, the pending-operation log, the connectivity
// monitor, and the remote document store.
//
// Every write funnels through the coordinator. It persists locally first,
// enqueues a pending operation, and wakes the drain loop, which replays
// operations against the remote store strictly in insertion order with at
// most one in flight. Reads are served from the local cache immediately;
// remote snapshots arriving over open subscriptions are merged with still
// pending local mutations before they replace the cache, so an entity saved
// offline never flickers out of view.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"scoresync/internal/model"
	"scoresync/internal/oplog"
	"scoresync/internal/remote"
	"scoresync/internal/store"
)

// Connectivity is the slice of the connectivity monitor the coordinator
// consumes. Satisfied by *connectivity.Monitor.
type Connectivity interface {
	// Online reports current reachability. Unknown counts as offline.
	Online() bool

	// Restored fires on an observed offline-to-online transition.
	Restored() <-chan struct{}
}

// Config holds coordinator dependencies and settings.
type Config struct {
	Store  *store.Store
	Log    *oplog.Log
	Remote remote.Store
	Net    Connectivity

	// Logger for coordinator activity (default: stderr logger).
	Logger *log.Logger
}

// Coordinator drives synchronization between local and remote state.
type Coordinator struct {
	store  *store.Store
	oplog  *oplog.Log
	remote remote.Store
	net    Connectivity
	logger *log.Logger

	mu          sync.Mutex
	players     []model.Player
	matches     []model.Match
	draining    bool
	backfilling bool
	backfillErr string
	subscribed  bool
	stopSubs    []func()
	statusSubs  []chan Status

	// wake nudges the drain loop. Capacity 1: wake-ups coalesce.
	wake chan struct{}

	initOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. Call Initialize to hydrate state and start the
// background loops.
func New(config Config) (*Coordinator, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("operation log is required")
	}
	if config.Remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if config.Net == nil {
		return nil, fmt.Errorf("connectivity monitor is required")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:  config.Store,
		oplog:  config.Log,
		remote: config.Remote,
		net:    config.Net,
		logger: config.Logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Initialize hydrates the in-memory view from the local cache and starts the
// drain and reconnect loops. The cache renders immediately regardless of
// connectivity; if the device is online, subscriptions open, queued
// operations start draining, and a game-record backfill kicks off in the
// background. Safe to call more than once; only the first call acts.
func (c *Coordinator) Initialize(ctx context.Context) error {
	var initErr error

	c.initOnce.Do(func() {
		if err := c.hydrate(); err != nil {
			initErr = err
			return
		}

		c.wg.Add(2)
		go c.drainLoop()
		go c.restoredLoop()

		if c.net.Online() {
			if err := c.openSubscriptions(); err != nil {
				c.logger.Printf("Warning: failed to open subscriptions: %v", err)
			}
			c.kickDrain()
			c.startBackfill()
		}
	})

	return initErr
}

// Close stops the background loops and closes any open subscriptions.
func (c *Coordinator) Close() {
	c.cancel()
	c.kickDrain() // unblock the drain loop so it can observe cancellation

	c.mu.Lock()
	stops := c.stopSubs
	c.stopSubs = nil
	c.subscribed = false
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}

	c.wg.Wait()
}

// hydrate loads the cached collections into memory.
func (c *Coordinator) hydrate() error {
	players, err := c.store.LoadPlayers()
	if err != nil {
		return fmt.Errorf("failed to load cached players: %w", err)
	}
	matches, err := c.store.LoadMatches()
	if err != nil {
		return fmt.Errorf("failed to load cached matches: %w", err)
	}

	c.mu.Lock()
	c.players = players
	c.matches = matches
	c.mu.Unlock()
	return nil
}

// Rehydrate reloads the in-memory view from the cache files. Called when an
// external change to the cache directory is detected.
func (c *Coordinator) Rehydrate() error {
	if err := c.hydrate(); err != nil {
		return err
	}
	c.publishStatus()
	return nil
}

// Players returns the current merged player list, newest snapshot wins.
func (c *Coordinator) Players() []model.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Player(nil), c.players...)
}

// Matches returns the current merged match list, newest first.
func (c *Coordinator) Matches() []model.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Match(nil), c.matches...)
}

// SaveMatch persists a finished match and its game records locally, enqueues
// the remote upload, and wakes the drain loop. Returns the match id (client
// generated when the match arrives without one), which doubles as the remote
// document key.
//
// The returned error covers local persistence only. Remote delivery is
// asynchronous and observable through Status.
func (c *Coordinator) SaveMatch(ctx context.Context, match model.Match, records []model.GameRecord) (string, error) {
	match.SetDefaults()
	for i := range records {
		records[i].SetDefaults()
		records[i].MatchID = match.ID
	}
	if err := match.Validate(); err != nil {
		return "", fmt.Errorf("invalid match: %w", err)
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return "", fmt.Errorf("invalid game record %d: %w", i, err)
		}
	}

	if err := c.writeMatchLocally(match, records); err != nil {
		return "", err
	}

	if err := c.enqueueMatchOp(ctx, oplog.TypeCreateMatch, match, records); err != nil {
		return "", err
	}

	c.kickDrain()
	c.publishStatus()
	return match.ID, nil
}

// UpdateMatch replaces a match and its full record set, locally first, then
// remotely via the queue.
func (c *Coordinator) UpdateMatch(ctx context.Context, match model.Match, records []model.GameRecord) error {
	if match.ID == "" {
		return fmt.Errorf("match id is required")
	}
	for i := range records {
		records[i].SetDefaults()
		records[i].MatchID = match.ID
	}
	if err := match.Validate(); err != nil {
		return fmt.Errorf("invalid match: %w", err)
	}

	if err := c.writeMatchLocally(match, records); err != nil {
		return err
	}

	if err := c.enqueueMatchOp(ctx, oplog.TypeUpdateMatch, match, records); err != nil {
		return err
	}

	c.kickDrain()
	c.publishStatus()
	return nil
}

// DeleteMatch removes a match and its records locally, then remotely via the
// queue.
func (c *Coordinator) DeleteMatch(ctx context.Context, matchID string) error {
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}

	c.mu.Lock()
	kept := c.matches[:0]
	for _, m := range c.matches {
		if m.ID != matchID {
			kept = append(kept, m)
		}
	}
	c.matches = kept
	matches := append([]model.Match(nil), c.matches...)
	c.mu.Unlock()

	if err := c.store.SaveMatches(matches); err != nil {
		return fmt.Errorf("failed to save matches: %w", err)
	}
	if err := c.store.CacheGameRecords(nil, matchID); err != nil {
		return fmt.Errorf("failed to drop cached records: %w", err)
	}

	op := &oplog.Operation{
		ID:      model.NewLocalID(),
		Type:    oplog.TypeDeleteMatch,
		LocalID: matchID,
	}
	if err := c.oplog.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue delete: %w", err)
	}

	c.kickDrain()
	c.publishStatus()
	return nil
}

// SavePlayer persists a new player locally and enqueues the remote create.
// Returns the player id.
func (c *Coordinator) SavePlayer(ctx context.Context, player model.Player) (string, error) {
	player.SetDefaults()
	if player.ID == "" {
		player.ID = model.NewLocalID()
	}
	if err := player.Validate(); err != nil {
		return "", fmt.Errorf("invalid player: %w", err)
	}

	c.mu.Lock()
	for _, p := range c.players {
		if p.Name == player.Name && p.ID != player.ID {
			c.mu.Unlock()
			return "", fmt.Errorf("player %q already exists", player.Name)
		}
	}
	c.mu.Unlock()

	if err := c.writePlayerLocally(player); err != nil {
		return "", err
	}
	if err := c.enqueuePlayerOp(ctx, oplog.TypeCreatePlayer, player); err != nil {
		return "", err
	}

	c.kickDrain()
	c.publishStatus()
	return player.ID, nil
}

// UpdatePlayer replaces a player document, locally first.
func (c *Coordinator) UpdatePlayer(ctx context.Context, player model.Player) error {
	if player.ID == "" {
		return fmt.Errorf("player id is required")
	}
	player.SetDefaults()
	if err := player.Validate(); err != nil {
		return fmt.Errorf("invalid player: %w", err)
	}

	if err := c.writePlayerLocally(player); err != nil {
		return err
	}
	if err := c.enqueuePlayerOp(ctx, oplog.TypeUpdatePlayer, player); err != nil {
		return err
	}

	c.kickDrain()
	c.publishStatus()
	return nil
}

// DeletePlayer removes a player locally, then remotely via the queue.
func (c *Coordinator) DeletePlayer(ctx context.Context, playerID string) error {
	if playerID == "" {
		return fmt.Errorf("player id is required")
	}

	c.mu.Lock()
	kept := c.players[:0]
	for _, p := range c.players {
		if p.ID != playerID {
			kept = append(kept, p)
		}
	}
	c.players = kept
	players := append([]model.Player(nil), c.players...)
	c.mu.Unlock()

	if err := c.store.SavePlayers(players); err != nil {
		return fmt.Errorf("failed to save players: %w", err)
	}

	op := &oplog.Operation{
		ID:      model.NewLocalID(),
		Type:    oplog.TypeDeletePlayer,
		LocalID: playerID,
	}
	if err := c.oplog.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue delete: %w", err)
	}

	c.kickDrain()
	c.publishStatus()
	return nil
}

// LoadGameRecords returns the cached records for a match immediately, ordered
// by game index. When online, a remote refresh runs in the background; if it
// finds anything, the refreshed set is cached and handed to onRefresh.
// onRefresh may be nil.
func (c *Coordinator) LoadGameRecords(ctx context.Context, matchID string, onRefresh func([]model.GameRecord)) ([]model.GameRecord, error) {
	cached, err := c.store.LoadGameRecordsFor(matchID)
	if err != nil {
		return nil, err
	}

	if c.net.Online() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.refreshGameRecords(matchID, onRefresh)
		}()
	}

	return cached, nil
}

// refreshGameRecords fetches one match's records from the remote store and
// refreshes the cache. Failures are logged, not surfaced: the caller already
// has the cached set.
func (c *Coordinator) refreshGameRecords(matchID string, onRefresh func([]model.GameRecord)) {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	docs, err := c.remote.Collection(remote.CollectionGameRecords).Query(ctx, "match_id", matchID)
	if err != nil {
		c.logger.Printf("Warning: record refresh for match %s failed: %v", matchID, err)
		return
	}
	if len(docs) == 0 {
		// Nothing remote yet, likely a match still waiting in the queue.
		return
	}

	records := decodeRecords(docs, c.logger)
	if err := c.store.CacheGameRecords(records, matchID); err != nil {
		c.logger.Printf("Warning: failed to cache refreshed records for match %s: %v", matchID, err)
		return
	}

	if onRefresh != nil {
		refreshed, err := c.store.LoadGameRecordsFor(matchID)
		if err != nil {
			c.logger.Printf("Warning: failed to reload refreshed records: %v", err)
			return
		}
		onRefresh(refreshed)
	}
}

// ForceSync wakes the drain loop and, when online, starts a fresh backfill.
func (c *Coordinator) ForceSync() {
	c.kickDrain()
	if c.net.Online() {
		c.startBackfill()
	}
}

// ResetAndSync destroys all local state (cache, metadata, and the pending
// operation log, including anything not yet uploaded) and rebuilds from the
// remote store. Destructive; callers own the confirmation.
func (c *Coordinator) ResetAndSync(ctx context.Context) error {
	if err := c.oplog.RemoveAll(ctx); err != nil {
		return err
	}
	if err := c.store.ClearAll(); err != nil {
		return err
	}

	c.mu.Lock()
	c.players = nil
	c.matches = nil
	c.backfillErr = ""
	c.mu.Unlock()

	if c.net.Online() {
		if err := c.openSubscriptions(); err != nil {
			c.logger.Printf("Warning: failed to open subscriptions: %v", err)
		}
		c.startBackfill()
	}

	c.publishStatus()
	return nil
}

// writeMatchLocally updates the in-memory match list and the cache files.
func (c *Coordinator) writeMatchLocally(match model.Match, records []model.GameRecord) error {
	c.mu.Lock()
	replaced := false
	for i := range c.matches {
		if c.matches[i].ID == match.ID {
			c.matches[i] = match
			replaced = true
			break
		}
	}
	if !replaced {
		// Newest first.
		c.matches = append([]model.Match{match}, c.matches...)
	}
	matches := append([]model.Match(nil), c.matches...)
	c.mu.Unlock()

	if err := c.store.SaveMatches(matches); err != nil {
		return fmt.Errorf("failed to save matches: %w", err)
	}
	if err := c.store.CacheGameRecords(records, match.ID); err != nil {
		return fmt.Errorf("failed to cache game records: %w", err)
	}
	return nil
}

// writePlayerLocally updates the in-memory player list and the cache file.
func (c *Coordinator) writePlayerLocally(player model.Player) error {
	c.mu.Lock()
	replaced := false
	for i := range c.players {
		if c.players[i].ID == player.ID {
			c.players[i] = player
			replaced = true
			break
		}
	}
	if !replaced {
		c.players = append(c.players, player)
	}
	players := append([]model.Player(nil), c.players...)
	c.mu.Unlock()

	if err := c.store.SavePlayers(players); err != nil {
		return fmt.Errorf("failed to save players: %w", err)
	}
	return nil
}

// enqueueMatchOp appends a match operation carrying the match and its records.
func (c *Coordinator) enqueueMatchOp(ctx context.Context, typ oplog.Type, match model.Match, records []model.GameRecord) error {
	payload, err := json.Marshal(matchPayload{Match: match, Records: records})
	if err != nil {
		return fmt.Errorf("failed to marshal match payload: %w", err)
	}

	op := &oplog.Operation{
		ID:      model.NewLocalID(),
		Type:    typ,
		Payload: payload,
		LocalID: match.ID,
	}
	if err := c.oplog.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", typ, err)
	}
	return nil
}

// enqueuePlayerOp appends a player operation.
func (c *Coordinator) enqueuePlayerOp(ctx context.Context, typ oplog.Type, player model.Player) error {
	payload, err := json.Marshal(playerPayload{Player: player})
	if err != nil {
		return fmt.Errorf("failed to marshal player payload: %w", err)
	}

	op := &oplog.Operation{
		ID:      model.NewLocalID(),
		Type:    typ,
		Payload: payload,
		LocalID: player.ID,
	}
	if err := c.oplog.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", typ, err)
	}
	return nil
}

// kickDrain nudges the drain loop. Never blocks; wake-ups coalesce.
func (c *Coordinator) kickDrain() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drainLoop waits for wake-ups and drains the queue sequentially.
func (c *Coordinator) drainLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
			c.drain()
		}
	}
}

// drain replays eligible operations against the remote store, one at a time,
// in insertion order. A single failure marks that operation failed and moves
// on; the loop stops only when nothing is eligible. If retryable entries are
// waiting out a backoff window, a timed wake-up is scheduled.
func (c *Coordinator) drain() {
	if !c.net.Online() {
		c.publishStatus()
		return
	}

	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
	c.publishStatus()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
		c.publishStatus()
	}()

	for {
		if c.ctx.Err() != nil {
			return
		}

		op, err := c.oplog.DequeueNext(c.ctx, time.Now())
		if err != nil {
			c.logger.Printf("Error: failed to dequeue: %v", err)
			return
		}
		if op == nil {
			c.scheduleRetryWake()
			break
		}

		if err := c.execute(c.ctx, op); err != nil {
			c.logger.Printf("Operation %s (%s) failed: %v", op.ID, op.Type, err)
			if markErr := c.oplog.MarkFailed(c.ctx, op.ID, err); markErr != nil {
				c.logger.Printf("Error: failed to record failure: %v", markErr)
			}
			continue
		}

		if err := c.oplog.MarkCompleted(c.ctx, op.ID); err != nil {
			c.logger.Printf("Error: failed to record completion: %v", err)
		}

		if !c.net.Online() {
			// Went offline mid-drain; the restored handler resumes us.
			return
		}
	}

	if err := c.oplog.RemoveCompleted(c.ctx); err != nil && c.ctx.Err() == nil {
		c.logger.Printf("Warning: failed to compact oplog: %v", err)
	}
}

// scheduleRetryWake arranges a future kick when retryable entries are blocked
// on backoff.
func (c *Coordinator) scheduleRetryWake() {
	wait, found, err := c.oplog.NextRetryIn(c.ctx, time.Now())
	if err != nil || !found {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.ctx.Done():
		case <-time.After(wait):
			c.kickDrain()
		}
	}()
}

// execute applies one operation to the remote store.
func (c *Coordinator) execute(ctx context.Context, op *oplog.Operation) error {
	switch op.Type {
	case oplog.TypeCreateMatch, oplog.TypeUpdateMatch:
		return c.executeMatchUpsert(ctx, op)
	case oplog.TypeDeleteMatch:
		return c.executeMatchDelete(ctx, op)
	case oplog.TypeCreatePlayer, oplog.TypeUpdatePlayer:
		return c.executePlayerUpsert(ctx, op)
	case oplog.TypeDeletePlayer:
		return c.remote.Collection(remote.CollectionPlayers).Delete(ctx, op.LocalID)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// executeMatchUpsert uploads a match and replaces its remote record set.
//
// Creates probe first: if the document already exists under the local id, a
// previous attempt got through before its acknowledgment was lost, and the
// match upsert is skipped. The record batch still runs; batch upserts are
// idempotent, and a partial earlier failure may have left records missing.
func (c *Coordinator) executeMatchUpsert(ctx context.Context, op *oplog.Operation) error {
	var p matchPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("unreadable payload: %w", err)
	}

	matchCol := c.remote.Collection(remote.CollectionMatches)
	recordCol := c.remote.Collection(remote.CollectionGameRecords)

	skipMatch := false
	if op.Type == oplog.TypeCreateMatch {
		_, err := matchCol.Get(ctx, op.LocalID)
		switch {
		case err == nil:
			c.logger.Printf("Match %s already exists remotely; treating create as applied", op.LocalID)
			skipMatch = true
		case errors.Is(err, remote.ErrNotFound):
			// Normal path.
		default:
			return fmt.Errorf("existence probe failed: %w", err)
		}
	}

	if !skipMatch {
		doc, err := json.Marshal(p.Match)
		if err != nil {
			return fmt.Errorf("failed to marshal match: %w", err)
		}
		if err := matchCol.Upsert(ctx, op.LocalID, doc); err != nil {
			return fmt.Errorf("match upsert failed: %w", err)
		}
	}

	if op.Type == oplog.TypeUpdateMatch {
		// An edit can shrink the record set; clear the old remote records so
		// removed rounds do not linger.
		existing, err := recordCol.Query(ctx, "match_id", op.LocalID)
		if err != nil {
			return fmt.Errorf("failed to list existing records: %w", err)
		}
		if len(existing) > 0 {
			ids := make([]string, len(existing))
			for i, d := range existing {
				ids[i] = d.ID
			}
			if err := recordCol.BatchDelete(ctx, ids); err != nil {
				return fmt.Errorf("failed to clear old records: %w", err)
			}
		}
	}

	if len(p.Records) > 0 {
		docs := make([]remote.Doc, len(p.Records))
		for i, r := range p.Records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
			}
			docs[i] = remote.Doc{ID: r.ID, Data: data}
		}
		if err := recordCol.BatchUpsert(ctx, docs); err != nil {
			return fmt.Errorf("record upload failed: %w", err)
		}
	}

	return nil
}

// executeMatchDelete removes a match document and every record filed under it.
func (c *Coordinator) executeMatchDelete(ctx context.Context, op *oplog.Operation) error {
	recordCol := c.remote.Collection(remote.CollectionGameRecords)

	existing, err := recordCol.Query(ctx, "match_id", op.LocalID)
	if err != nil {
		return fmt.Errorf("failed to list records for delete: %w", err)
	}
	if len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, d := range existing {
			ids[i] = d.ID
		}
		if err := recordCol.BatchDelete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
	}

	if err := c.remote.Collection(remote.CollectionMatches).Delete(ctx, op.LocalID); err != nil {
		return fmt.Errorf("match delete failed: %w", err)
	}
	return nil
}

// executePlayerUpsert uploads a player document, probing first for creates.
func (c *Coordinator) executePlayerUpsert(ctx context.Context, op *oplog.Operation) error {
	var p playerPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return fmt.Errorf("unreadable payload: %w", err)
	}

	col := c.remote.Collection(remote.CollectionPlayers)

	if op.Type == oplog.TypeCreatePlayer {
		_, err := col.Get(ctx, op.LocalID)
		switch {
		case err == nil:
			c.logger.Printf("Player %s already exists remotely; treating create as applied", op.LocalID)
			return nil
		case errors.Is(err, remote.ErrNotFound):
			// Normal path.
		default:
			return fmt.Errorf("existence probe failed: %w", err)
		}
	}

	doc, err := json.Marshal(p.Player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}
	if err := col.Upsert(ctx, op.LocalID, doc); err != nil {
		return fmt.Errorf("player upsert failed: %w", err)
	}
	return nil
}

// openSubscriptions opens the players and matches snapshot feeds. Idempotent
// while feeds are already open.
func (c *Coordinator) openSubscriptions() error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = true
	c.mu.Unlock()

	var opened []func()
	for _, name := range []string{remote.CollectionPlayers, remote.CollectionMatches} {
		ch, stop, err := c.remote.Collection(name).Subscribe(c.ctx)
		if err != nil {
			// Close feeds opened so far, otherwise a retry would stack a
			// second reader on the same collection.
			for _, s := range opened {
				s()
			}
			c.mu.Lock()
			c.subscribed = false
			c.mu.Unlock()
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		opened = append(opened, stop)

		c.wg.Add(1)
		go func(name string, ch <-chan remote.Snapshot) {
			defer c.wg.Done()
			for snap := range ch {
				c.handleSnapshot(name, snap)
			}

			// Feed dropped; the restored handler reopens it.
			c.mu.Lock()
			c.subscribed = false
			c.mu.Unlock()
		}(name, ch)
	}

	c.mu.Lock()
	c.stopSubs = append(c.stopSubs, opened...)
	c.mu.Unlock()

	return nil
}

// handleSnapshot merges a remote snapshot with pending local mutations and
// replaces the cached collection.
func (c *Coordinator) handleSnapshot(name string, snap remote.Snapshot) {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	switch name {
	case remote.CollectionPlayers:
		pending, err := c.oplog.PendingForOverlay(ctx,
			oplog.TypeCreatePlayer, oplog.TypeUpdatePlayer, oplog.TypeDeletePlayer)
		if err != nil {
			c.logger.Printf("Warning: overlay query failed: %v", err)
			return
		}
		players := mergePlayers(snap.Docs, pending, c.logger)
		if err := c.store.SavePlayers(players); err != nil {
			c.logger.Printf("Warning: failed to cache players snapshot: %v", err)
			return
		}
		c.mu.Lock()
		c.players = players
		c.mu.Unlock()

	case remote.CollectionMatches:
		pending, err := c.oplog.PendingForOverlay(ctx,
			oplog.TypeCreateMatch, oplog.TypeUpdateMatch, oplog.TypeDeleteMatch)
		if err != nil {
			c.logger.Printf("Warning: overlay query failed: %v", err)
			return
		}
		matches := mergeMatches(snap.Docs, pending, c.logger)
		if err := c.store.SaveMatches(matches); err != nil {
			c.logger.Printf("Warning: failed to cache matches snapshot: %v", err)
			return
		}
		c.mu.Lock()
		c.matches = matches
		c.mu.Unlock()
	}

	c.publishStatus()
}

// startBackfill launches a full game-record backfill unless one is already
// running.
func (c *Coordinator) startBackfill() {
	c.mu.Lock()
	if c.backfilling {
		c.mu.Unlock()
		return
	}
	c.backfilling = true
	c.mu.Unlock()
	c.publishStatus()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.backfill()
	}()
}

// backfill downloads every remote game record and refreshes the cache, match
// by match, then marks the full sync complete. Records belonging to matches
// that exist only locally (still queued) are untouched.
//
// On failure the error is surfaced through Status. If a full sync already
// completed in the past, the cache stays trusted: stale but usable.
func (c *Coordinator) backfill() {
	defer func() {
		c.mu.Lock()
		c.backfilling = false
		c.mu.Unlock()
		c.publishStatus()
	}()

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Minute)
	defer cancel()

	docs, err := c.remote.Collection(remote.CollectionGameRecords).List(ctx)
	if err != nil {
		c.logger.Printf("Backfill failed: %v", err)
		c.mu.Lock()
		c.backfillErr = err.Error()
		c.mu.Unlock()
		return
	}

	records := decodeRecords(docs, c.logger)

	byMatch := make(map[string][]model.GameRecord)
	for _, r := range records {
		byMatch[r.MatchID] = append(byMatch[r.MatchID], r)
	}

	for matchID, recs := range byMatch {
		if err := c.store.CacheGameRecords(recs, matchID); err != nil {
			c.logger.Printf("Backfill failed caching match %s: %v", matchID, err)
			c.mu.Lock()
			c.backfillErr = err.Error()
			c.mu.Unlock()
			return
		}
	}

	now := time.Now()
	if err := c.store.SetFullSyncDone(true); err != nil {
		c.logger.Printf("Warning: failed to persist full-sync flag: %v", err)
	}
	if err := c.store.SetLastSync(now); err != nil {
		c.logger.Printf("Warning: failed to persist last-sync time: %v", err)
	}

	c.mu.Lock()
	c.backfillErr = ""
	c.mu.Unlock()

	c.logger.Printf("Backfill complete: %d records across %d matches", len(records), len(byMatch))
}

// decodeRecords unmarshals record documents, skipping corrupt ones.
func decodeRecords(docs []remote.Doc, logger *log.Logger) []model.GameRecord {
	var records []model.GameRecord
	for _, doc := range docs {
		var r model.GameRecord
		if err := json.Unmarshal(doc.Data, &r); err != nil {
			logger.Printf("Warning: skipping corrupt remote record %s: %v", doc.ID, err)
			continue
		}
		if r.ID == "" {
			r.ID = doc.ID
		}
		records = append(records, r)
	}
	return records
}

// restoredLoop reacts to connectivity coming back: reopen dropped feeds,
// resume draining, and backfill if a full sync has never succeeded.
func (c *Coordinator) restoredLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.net.Restored():
			c.logger.Printf("Connectivity restored; resuming sync")

			if err := c.openSubscriptions(); err != nil {
				c.logger.Printf("Warning: failed to reopen subscriptions: %v", err)
			}
			c.kickDrain()

			if !c.store.HasCompletedFullSync() {
				c.startBackfill()
			}
			c.publishStatus()
		}
	}
}

// Status returns a snapshot of sync progress.
func (c *Coordinator) Status() Status {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := c.oplog.PendingCount(ctx)
	if err != nil {
		c.logger.Printf("Warning: failed to count pending operations: %v", err)
	}
	exhausted, err := c.oplog.ExhaustedCount(ctx)
	if err != nil {
		c.logger.Printf("Warning: failed to count exhausted operations: %v", err)
	}

	online := c.net.Online()
	meta := c.store.Meta()
	hasCache := c.store.HasGameRecordCache()

	c.mu.Lock()
	working := c.draining || c.backfilling
	backfilling := c.backfilling
	backfillErr := c.backfillErr
	c.mu.Unlock()

	state, errMsg := projectState(online, working, backfillErr)

	return Status{
		State:        state,
		Err:          errMsg,
		PendingOps:   pending,
		ExhaustedOps: exhausted,
		Online:       online,
		GameRecords:  projectRecordsState(meta.FullSyncDone, backfilling, online, hasCache, backfillErr),
		LastSync:     meta.LastSync,
	}
}

// Subscribe registers a status listener. Each published status is delivered
// with drop-stale semantics: a slow listener misses intermediate snapshots,
// never blocks the coordinator. The returned stop function unregisters.
func (c *Coordinator) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	c.mu.Lock()
	c.statusSubs = append(c.statusSubs, ch)
	c.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.mu.Lock()
			for i, s := range c.statusSubs {
				if s == ch {
					c.statusSubs = append(c.statusSubs[:i], c.statusSubs[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
		})
	}

	return ch, stop
}

// publishStatus fans the current status out to listeners.
func (c *Coordinator) publishStatus() {
	status := c.Status()

	c.mu.Lock()
	subs := append([]chan Status(nil), c.statusSubs...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}
