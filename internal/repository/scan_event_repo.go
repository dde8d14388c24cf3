package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"ticket_desk/internal/models"

	"github.com/google/uuid"
)

type ScanEventSQLite struct {
	db *sql.DB
}

func NewScanEventSQLite(db *sql.DB) *ScanEventSQLite { return &ScanEventSQLite{db: db} }

const (
	insertScanEventSQL = `
		INSERT INTO scan_events (id, occurred_at, code, type, message, mode)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	selectScanEventsSQL = `SELECT id, occurred_at, code, type, message, mode FROM scan_events`
)

// Append inserts a scan event. Empty EventID and zero OccurredAt are filled in.
func (r *ScanEventSQLite) Append(ctx context.Context, e models.ScanEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, insertScanEventSQL,
		e.EventID,
		e.OccurredAt,
		e.Code,
		strings.ToUpper(strings.TrimSpace(string(e.Type))),
		e.Message,
		e.Mode,
	)
	return err
}

// List returns events filtered by [from, to] (inclusive) and/or type, oldest first.
func (r *ScanEventSQLite) List(ctx context.Context, from, to time.Time, typ string) ([]models.ScanEvent, error) {
	var (
		conds []string
		args  []any
	)

	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC())
	}
	if typ = strings.ToUpper(strings.TrimSpace(typ)); typ != "" {
		conds = append(conds, "type = ?")
		args = append(args, typ)
	}

	q := selectScanEventsSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ScanEvent, 0, 64)
	for rows.Next() {
		var (
			ev  models.ScanEvent
			typ string
		)
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Code, &typ, &ev.Message, &ev.Mode); err != nil {
			return nil, err
		}
		ev.Type = models.ResultType(typ)
		ev.OccurredAt = ev.OccurredAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
