package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// PrefsSQLite is a DurableKV backed by the preferences table. All values
// are kept in memory; Put and Remove only mark keys dirty and Flush writes
// the dirty set in one transaction.
type PrefsSQLite struct {
	db *sql.DB

	mu     sync.Mutex
	values map[string][]byte
	dirty  map[string]*pendingPref

	flushMu sync.Mutex
}

// pendingPref is an unflushed change. removed marks a delete.
type pendingPref struct {
	value   []byte
	removed bool
}

var _ DurableKV = (*PrefsSQLite)(nil)

const (
	selectAllPrefsSQL = `SELECT key, value FROM preferences`

	upsertPrefSQL = `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`

	deletePrefSQL = `DELETE FROM preferences WHERE key = ?`
)

// NewPrefsSQLite loads every stored preference into memory.
func NewPrefsSQLite(ctx context.Context, db *sql.DB) (*PrefsSQLite, error) {
	p := &PrefsSQLite{
		db:     db,
		values: make(map[string][]byte),
		dirty:  make(map[string]*pendingPref),
	}
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PrefsSQLite) load(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, selectAllPrefsSQL)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan preference: %w", err)
		}
		p.values[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate preferences: %w", err)
	}
	return nil
}

func (p *PrefsSQLite) lookup(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *PrefsSQLite) store(key string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	p.dirty[key] = &pendingPref{value: value}
}

func (p *PrefsSQLite) GetBytes(key string, def []byte) []byte {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (p *PrefsSQLite) PutBytes(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	p.store(key, stored)
}

func (p *PrefsSQLite) GetBool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(string(v))
	if err != nil {
		return def
	}
	return b
}

func (p *PrefsSQLite) PutBool(key string, value bool) {
	p.store(key, []byte(strconv.FormatBool(value)))
}

func (p *PrefsSQLite) GetInt(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(string(v))
	if err != nil {
		return def
	}
	return i
}

func (p *PrefsSQLite) PutInt(key string, value int) {
	p.store(key, []byte(strconv.Itoa(value)))
}

func (p *PrefsSQLite) GetLong(key string, def int64) int64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return def
	}
	return i
}

func (p *PrefsSQLite) PutLong(key string, value int64) {
	p.store(key, []byte(strconv.FormatInt(value, 10)))
}

func (p *PrefsSQLite) Get(key, def string) string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	return string(v)
}

func (p *PrefsSQLite) Put(key, value string) {
	p.store(key, []byte(value))
}

func (p *PrefsSQLite) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	p.dirty[key] = &pendingPref{removed: true}
}

// Flush persists every pending change in a single transaction. On error
// the changes stay pending and the next Flush retries them.
func (p *PrefsSQLite) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	keys := make([]string, 0, len(p.dirty))
	snapshot := make(map[string]*pendingPref, len(p.dirty))
	for k, op := range p.dirty {
		keys = append(keys, k)
		snapshot[k] = op
	}
	p.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preferences flush: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, k := range keys {
		op := snapshot[k]
		if op.removed {
			_, err = tx.ExecContext(ctx, deletePrefSQL, k)
		} else {
			_, err = tx.ExecContext(ctx, upsertPrefSQL, k, op.value)
		}
		if err != nil {
			return fmt.Errorf("flush preference %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preferences flush: %w", err)
	}

	// Keys changed again while flushing stay dirty.
	p.mu.Lock()
	for k, op := range snapshot {
		if p.dirty[k] == op {
			delete(p.dirty, k)
		}
	}
	p.mu.Unlock()
	return nil
}

// Pending returns the number of unflushed keys.
func (p *PrefsSQLite) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}
