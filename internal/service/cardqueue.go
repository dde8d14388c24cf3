package service

import (
	"sync"
	"time"

	"ticket_desk/internal/clock"
	"ticket_desk/internal/hub"
	"ticket_desk/internal/models"

	"github.com/google/uuid"
)

// DefaultCardTTL is how long a result card stays on screen.
const DefaultCardTTL = 15 * time.Second

type queuedCard struct {
	card    models.ResultCard
	timer   *clock.Timer
	removed bool
}

// CardQueue is the ordered list of visible result cards, oldest first.
// Every card removes itself after the TTL unless removed earlier.
type CardQueue struct {
	ttl   time.Duration
	clock clock.Clock
	hub   *hub.Hub

	mu     sync.Mutex
	cards  []*queuedCard
	closed bool
}

func NewCardQueue(ttl time.Duration, clk clock.Clock, h *hub.Hub) *CardQueue {
	if ttl <= 0 {
		ttl = DefaultCardTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CardQueue{ttl: ttl, clock: clk, hub: h}
}

// Push appends a card for result and schedules its expiry.
func (q *CardQueue) Push(result models.CheckResult) models.ResultCard {
	now := q.clock.Now()
	qc := &queuedCard{card: models.ResultCard{
		ID:        uuid.NewString(),
		Result:    result,
		Headline:  result.Headline(),
		CreatedAt: now,
		ExpiresAt: now.Add(q.ttl),
	}}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return qc.card
	}
	q.cards = append(q.cards, qc)
	q.mu.Unlock()

	q.publish(hub.EventCardPush, qc.card)

	// The timer is armed outside the lock: a fake clock may fire it
	// synchronously.
	id := qc.card.ID
	timer := q.clock.AfterFunc(q.ttl, func() { q.Remove(id) })

	q.mu.Lock()
	qc.timer = timer
	removed := qc.removed
	q.mu.Unlock()
	if removed {
		timer.Stop()
	}
	return qc.card
}

// Remove drops the card with id and cancels its timer. It returns false
// if the card is already gone.
func (q *CardQueue) Remove(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, qc := range q.cards {
		if qc.card.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	qc := q.cards[idx]
	qc.removed = true
	timer := qc.timer
	q.cards = append(q.cards[:idx], q.cards[idx+1:]...)
	q.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	q.publish(hub.EventCardRemove, qc.card)
	return true
}

// Clear removes every card.
func (q *CardQueue) Clear() {
	for _, c := range q.Cards() {
		q.Remove(c.ID)
	}
}

// Cards returns a copy of the visible cards in display order.
func (q *CardQueue) Cards() []models.ResultCard {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.ResultCard, len(q.cards))
	for i, qc := range q.cards {
		out[i] = qc.card
	}
	return out
}

func (q *CardQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cards)
}

// Close cancels all expiry timers. Later pushes are ignored.
func (q *CardQueue) Close() {
	q.mu.Lock()
	q.closed = true
	var timers []*clock.Timer
	for _, qc := range q.cards {
		qc.removed = true
		if qc.timer != nil {
			timers = append(timers, qc.timer)
		}
	}
	q.cards = nil
	q.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (q *CardQueue) publish(typ string, card models.ResultCard) {
	if q.hub == nil {
		return
	}
	q.hub.Publish(hub.Event{Type: typ, Data: card})
}
