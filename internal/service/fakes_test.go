package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ticket_desk/internal/models"
)

// memKV is an in-memory DurableKV. Flush copies the working set into
// durable, which is what a restarted terminal would see.
type memKV struct {
	mu       sync.Mutex
	values   map[string]string
	durable  map[string]string
	flushes  int
	flushErr error
}

func newMemKV() *memKV {
	return &memKV{values: map[string]string{}, durable: map[string]string{}}
}

// reopen simulates a restart: only flushed values survive.
func (m *memKV) reopen() *memKV {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := newMemKV()
	for k, v := range m.durable {
		n.values[k] = v
		n.durable[k] = v
	}
	return n
}

func (m *memKV) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memKV) put(key, v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
}

func (m *memKV) GetBytes(key string, def []byte) []byte {
	if v, ok := m.get(key); ok {
		return []byte(v)
	}
	return def
}
func (m *memKV) PutBytes(key string, value []byte) { m.put(key, string(value)) }

func (m *memKV) GetBool(key string, def bool) bool {
	if v, ok := m.get(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
func (m *memKV) PutBool(key string, value bool) { m.put(key, strconv.FormatBool(value)) }

func (m *memKV) GetInt(key string, def int) int {
	if v, ok := m.get(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func (m *memKV) PutInt(key string, value int) { m.put(key, strconv.Itoa(value)) }

func (m *memKV) GetLong(key string, def int64) int64 {
	if v, ok := m.get(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}
func (m *memKV) PutLong(key string, value int64) { m.put(key, strconv.FormatInt(value, 10)) }

func (m *memKV) Get(key, def string) string {
	if v, ok := m.get(key); ok {
		return v
	}
	return def
}
func (m *memKV) Put(key, value string) { m.put(key, value) }

func (m *memKV) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *memKV) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	if m.flushErr != nil {
		return m.flushErr
	}
	m.durable = make(map[string]string, len(m.values))
	for k, v := range m.values {
		m.durable[k] = v
	}
	return nil
}

func (m *memKV) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// recordingScans is a ScanEventRepo that keeps appended events.
type recordingScans struct {
	mu        sync.Mutex
	events    []models.ScanEvent
	appendErr error
}

func (r *recordingScans) Append(_ context.Context, e models.ScanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingScans) List(context.Context, time.Time, time.Time, string) ([]models.ScanEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ScanEvent(nil), r.events...), nil
}

// memTickets is an in-memory TicketRepo.
type memTickets struct {
	mu        sync.Mutex
	tickets   map[string]models.Ticket
	checkins  []models.QueuedCheckin
	redeemErr error
	cleared   int
}

func newMemTickets(ts ...models.Ticket) *memTickets {
	m := &memTickets{tickets: map[string]models.Ticket{}}
	for _, t := range ts {
		m.tickets[t.Secret] = t
	}
	return m
}

func (m *memTickets) ReplaceAll(_ context.Context, ts []models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = map[string]models.Ticket{}
	for _, t := range ts {
		m.tickets[t.Secret] = t
	}
	return nil
}

func (m *memTickets) GetBySecret(_ context.Context, secret string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[secret]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memTickets) Redeem(_ context.Context, c models.QueuedCheckin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redeemErr != nil {
		return m.redeemErr
	}
	t := m.tickets[c.Secret]
	t.Redeemed = true
	m.tickets[c.Secret] = t
	m.checkins = append(m.checkins, c)
	return nil
}

func (m *memTickets) PendingCheckins(_ context.Context, limit int) ([]models.QueuedCheckin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.checkins) < limit {
		limit = len(m.checkins)
	}
	return append([]models.QueuedCheckin(nil), m.checkins[:limit]...), nil
}

func (m *memTickets) MarkUploaded(context.Context, string, time.Time) error { return nil }

func (m *memTickets) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets), nil
}

func (m *memTickets) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = map[string]models.Ticket{}
	m.checkins = nil
	m.cleared++
	return nil
}
