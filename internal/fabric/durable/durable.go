// Package durable implements fabric.Backend on top of an external key/value
// + stream store. In this deployment that store is a local SQLite database
// (modernc.org/sqlite, pure Go, no cgo) — the spec treats the real
// production store (§1's "external persistent time-series backend") as an
// out-of-core collaborator; SQLite here stands in for it behind the same
// fabric.Backend contract, the way the teacher's store/sqlite stands in for
// its store.Store interface.
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

// defaultHistoryWindow is used for History() queries against devices
// registered with HistoryDepth == 0 (ephemeral-equivalent behavior, per
// spec §4.2).
const defaultHistoryWindow = 1

// hotCacheSize bounds the number of devices whose recent-reading window is
// kept in memory, avoiding a round trip to SQLite for the common case of a
// logic block or subscriber re-reading a value it just wrote.
const hotCacheSize = 256

type handle struct {
	name value.Name
	id   int64
}

func (h handle) Name() value.Name { return h.name }

type subscriber struct {
	ch chan fabric.Item
}

// Backend is the SQLite-backed, bounded-history implementation of
// fabric.Backend.
type Backend struct {
	db *sql.DB

	mu      sync.Mutex
	byName  map[string]*deviceState
	router  fabric.SettingRouter
	hotCache *lru.Cache[string, []fabric.Reading]
}

type deviceState struct {
	id   int64
	reg  fabric.Registration
	last *fabric.Reading
	subs map[*subscriber]struct{}
}

// Open opens (or creates) the SQLite database at path and applies the
// schema migration, mirroring the teacher's store/sqlite.Open: single
// connection (SQLite serialises writes anyway), WAL mode, foreign keys on.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	cache, err := lru.New[string, []fabric.Reading](hotCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history cache: %w", err)
	}

	b := &Backend{db: db, byName: make(map[string]*deviceState), hotCache: cache}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := b.loadDevices(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load devices: %w", err)
	}
	return b, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL UNIQUE,
			type          INTEGER NOT NULL,
			direction     INTEGER NOT NULL,
			units         TEXT NOT NULL DEFAULT '',
			owner         TEXT NOT NULL,
			history_depth INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			device_id INTEGER NOT NULL REFERENCES devices(id),
			seq       INTEGER NOT NULL,
			ts_unix_ms INTEGER NOT NULL,
			payload   BLOB NOT NULL,
			PRIMARY KEY (device_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts_unix_ms)`,
	}
	for _, s := range stmts {
		if _, err := b.db.Exec(s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

func (b *Backend) loadDevices() error {
	rows, err := b.db.Query(`SELECT id, name, type, direction, units, owner, history_depth FROM devices`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                      int64
			name, units, owner      string
			typ, direction, history int
		)
		if err := rows.Scan(&id, &name, &typ, &direction, &units, &owner, &history); err != nil {
			return err
		}
		n, err := value.ParseName(name)
		if err != nil {
			return fmt.Errorf("stored device %q: %w", name, err)
		}
		ds := &deviceState{
			id: id,
			reg: fabric.Registration{
				Name: n, Type: value.Type(typ), Direction: fabric.Direction(direction),
				Units: units, Owner: owner, HistoryDepth: history,
			},
			subs: make(map[*subscriber]struct{}),
		}
		if last, err := b.lastReadingFromDB(ds.id); err == nil && last != nil {
			ds.last = last
		}
		b.byName[name] = ds
	}
	return rows.Err()
}

func (b *Backend) lastReadingFromDB(deviceID int64) (*fabric.Reading, error) {
	var tsMs int64
	var payload []byte
	err := b.db.QueryRow(
		`SELECT ts_unix_ms, payload FROM readings WHERE device_id = ? ORDER BY seq DESC LIMIT 1`,
		deviceID,
	).Scan(&tsMs, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, _, err := value.Decode(payload)
	if err != nil {
		return nil, err
	}
	return &fabric.Reading{Time: time.UnixMilli(tsMs).UTC(), Value: v}, nil
}

func (b *Backend) SetSettingRouter(r fabric.SettingRouter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.router = r
}

func (b *Backend) Register(_ context.Context, reg fabric.Registration) (fabric.Handle, error) {
	if reg.Name.IsZero() {
		return nil, fabric.ErrBadName
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := reg.Name.String()
	if ds, ok := b.byName[key]; ok {
		if ds.reg.Type != reg.Type || ds.reg.Direction != reg.Direction || ds.reg.Owner != reg.Owner {
			return nil, fmt.Errorf("register %s: %w", key, fabric.ErrAlreadyRegistered)
		}
		return handle{name: reg.Name, id: ds.id}, nil
	}

	res, err := b.db.Exec(
		`INSERT INTO devices (name, type, direction, units, owner, history_depth) VALUES (?, ?, ?, ?, ?, ?)`,
		key, int(reg.Type), int(reg.Direction), reg.Units, reg.Owner, reg.HistoryDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	b.byName[key] = &deviceState{id: id, reg: reg, subs: make(map[*subscriber]struct{})}
	return handle{name: reg.Name, id: id}, nil
}

func (b *Backend) lookup(name value.Name) (*deviceState, error) {
	ds, ok := b.byName[name.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fabric.ErrUnknownDevice)
	}
	return ds, nil
}

func (b *Backend) Write(ctx context.Context, h fabric.Handle, v value.Value, ts time.Time) error {
	name := h.Name()
	b.mu.Lock()
	ds, err := b.lookup(name)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if ds.reg.Type != v.Type() {
		b.mu.Unlock()
		return fmt.Errorf("write %s: declared %s, got %s: %w", name, ds.reg.Type, v.Type(), fabric.ErrTypeMismatch)
	}
	if ds.last != nil && ts.Before(ds.last.Time) {
		b.mu.Unlock()
		return fmt.Errorf("write %s: ts %s before last %s: %w", name, ts, ds.last.Time, fabric.ErrNonMonotonic)
	}
	id := ds.id
	depth := ds.reg.HistoryDepth
	b.mu.Unlock()

	var seq int64
	err = b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM readings WHERE device_id = ?`, id).Scan(&seq)
	if err != nil {
		return fmt.Errorf("write %s: next seq: %w", name, err)
	}
	payload := value.Encode(v)
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO readings (device_id, seq, ts_unix_ms, payload) VALUES (?, ?, ?, ?)`,
		id, seq, ts.UTC().UnixMilli(), payload,
	); err != nil {
		return fmt.Errorf("write %s: insert: %w", name, err)
	}

	if depth > 0 {
		if _, err := b.db.ExecContext(ctx,
			`DELETE FROM readings WHERE device_id = ? AND seq <= ?`, id, seq-int64(depth),
		); err != nil {
			return fmt.Errorf("write %s: trim history: %w", name, err)
		}
	}

	r := fabric.Reading{Time: ts.UTC(), Value: v}

	b.mu.Lock()
	ds.last = &r
	b.hotCache.Remove(name.String())
	subs := make([]*subscriber, 0, len(ds.subs))
	for s := range ds.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		publish(s, fabric.Item{Reading: r})
	}
	return nil
}

func publish(s *subscriber, item fabric.Item) {
	select {
	case s.ch <- item:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	item.Gap = true
	select {
	case s.ch <- item:
	default:
	}
}

func (b *Backend) Latest(_ context.Context, name value.Name) (fabric.Reading, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.lookup(name)
	if err != nil {
		return fabric.Reading{}, false, err
	}
	if ds.last == nil {
		return fabric.Reading{}, false, nil
	}
	return *ds.last, true, nil
}

// History returns up to `window` most recent readings, oldest first. A
// device registered with history_depth == 0 behaves like the ephemeral
// backend and returns at most one element, per spec §4.2.
func (b *Backend) History(ctx context.Context, name value.Name, window int) ([]fabric.Reading, error) {
	b.mu.Lock()
	ds, err := b.lookup(name)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	id := ds.id
	depth := ds.reg.HistoryDepth
	b.mu.Unlock()

	if depth == 0 {
		window = defaultHistoryWindow
	} else if window <= 0 || window > depth {
		window = depth
	}

	if cached, ok := b.hotCache.Get(name.String()); ok && len(cached) >= window {
		return cached[len(cached)-window:], nil
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT ts_unix_ms, payload FROM readings WHERE device_id = ? ORDER BY seq DESC LIMIT ?`,
		id, window,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", name, err)
	}
	defer rows.Close()

	var out []fabric.Reading
	for rows.Next() {
		var tsMs int64
		var payload []byte
		if err := rows.Scan(&tsMs, &payload); err != nil {
			return nil, err
		}
		v, _, err := value.Decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, fabric.Reading{Time: time.UnixMilli(tsMs).UTC(), Value: v})
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	b.hotCache.Add(name.String(), out)
	return out, rows.Err()
}

type subHandle struct {
	id      string
	ch      chan fabric.Item
	closeFn func()
	once    sync.Once
}

func (s *subHandle) C() <-chan fabric.Item { return s.ch }
func (s *subHandle) ID() string            { return s.id }
func (s *subHandle) Close()                { s.once.Do(s.closeFn) }

func (b *Backend) SubscribeReadings(_ context.Context, name value.Name) (fabric.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.lookup(name)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan fabric.Item, 16)}
	if ds.last != nil {
		sub.ch <- fabric.Item{Reading: *ds.last}
	}
	ds.subs[sub] = struct{}{}

	h := &subHandle{id: uuid.NewString(), ch: sub.ch}
	h.closeFn = func() {
		b.mu.Lock()
		delete(ds.subs, sub)
		b.mu.Unlock()
	}
	return h, nil
}

func (b *Backend) RouteSetting(ctx context.Context, name value.Name, v value.Value) (value.Value, error) {
	b.mu.Lock()
	ds, err := b.lookup(name)
	if err != nil {
		b.mu.Unlock()
		return value.Value{}, err
	}
	if ds.reg.Direction != fabric.ReadWrite {
		b.mu.Unlock()
		return value.Value{}, fmt.Errorf("route %s: %w", name, fabric.ErrReadOnly)
	}
	if ds.reg.Type != v.Type() {
		b.mu.Unlock()
		return value.Value{}, fmt.Errorf("route %s: declared %s, got %s: %w", name, ds.reg.Type, v.Type(), fabric.ErrTypeMismatch)
	}
	router := b.router
	b.mu.Unlock()

	if router == nil {
		return value.Value{}, fmt.Errorf("route %s: %w", name, fabric.ErrBackendUnavailable)
	}
	return router.Route(ctx, name, v)
}

func (b *Backend) Lookup(_ context.Context, name value.Name) (fabric.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.lookup(name)
	if err != nil {
		return fabric.Record{}, err
	}
	rec := fabric.Record{Registration: ds.reg}
	if ds.last != nil {
		last := *ds.last
		rec.Last = &last
	}
	return rec, nil
}

func (b *Backend) List(_ context.Context) ([]fabric.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.byName))
	for k := range b.byName {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]fabric.Record, 0, len(names))
	for _, k := range names {
		ds := b.byName[k]
		rec := fabric.Record{Registration: ds.reg}
		if ds.last != nil {
			last := *ds.last
			rec.Last = &last
		}
		out = append(out, rec)
	}
	return out, nil
}
