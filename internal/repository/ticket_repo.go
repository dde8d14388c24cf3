package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket_desk/internal/models"
)

// TicketSQLite caches downloaded tickets and the offline check-ins that
// still have to be uploaded.
type TicketSQLite struct {
	db *sql.DB
}

func NewTicketSQLite(db *sql.DB) *TicketSQLite { return &TicketSQLite{db: db} }

var _ TicketRepo = (*TicketSQLite)(nil)

const (
	deleteTicketsSQL = `DELETE FROM tickets`

	insertTicketSQL = `
		INSERT INTO tickets (secret, order_code, attendee_name, item, variation, paid, redeemed, require_attention)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectTicketBySecretSQL = `
		SELECT secret, order_code, attendee_name, item, variation, paid, redeemed, require_attention
		FROM tickets WHERE secret = ?
	`

	redeemTicketSQL = `UPDATE tickets SET redeemed = 1 WHERE secret = ? AND redeemed = 0`

	insertCheckinSQL = `INSERT INTO queued_checkins (nonce, secret, datetime) VALUES (?, ?, ?)`

	selectPendingCheckinsSQL = `
		SELECT nonce, secret, datetime FROM queued_checkins
		WHERE uploaded_at IS NULL ORDER BY datetime ASC LIMIT ?
	`

	markCheckinUploadedSQL = `UPDATE queued_checkins SET uploaded_at = ? WHERE nonce = ?`

	countTicketsSQL = `SELECT COUNT(*) FROM tickets`

	deleteCheckinsSQL = `DELETE FROM queued_checkins`
)

// ReplaceAll swaps the cached ticket list in one transaction. Tickets
// redeemed offline but not yet uploaded keep their redeemed flag.
func (r *TicketSQLite) ReplaceAll(ctx context.Context, tickets []models.Ticket) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticket replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	pending, err := pendingSecrets(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, deleteTicketsSQL); err != nil {
		return fmt.Errorf("clear tickets: %w", err)
	}
	for _, t := range tickets {
		redeemed := t.Redeemed || pending[t.Secret]
		if _, err := tx.ExecContext(ctx, insertTicketSQL,
			t.Secret, t.OrderCode, t.AttendeeName, t.Item, t.Variation,
			t.Paid, redeemed, t.RequireAttention,
		); err != nil {
			return fmt.Errorf("insert ticket %q: %w", t.Secret, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket replace: %w", err)
	}
	return nil
}

const selectPendingSecretsSQL = `SELECT secret FROM queued_checkins WHERE uploaded_at IS NULL`

func pendingSecrets(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, selectPendingSecretsSQL)
	if err != nil {
		return nil, fmt.Errorf("select pending secrets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out[s] = true
	}
	return out, rows.Err()
}

// GetBySecret returns (nil, nil) when the secret is unknown.
func (r *TicketSQLite) GetBySecret(ctx context.Context, secret string) (*models.Ticket, error) {
	var t models.Ticket
	err := r.db.QueryRowContext(ctx, selectTicketBySecretSQL, secret).Scan(
		&t.Secret, &t.OrderCode, &t.AttendeeName, &t.Item, &t.Variation,
		&t.Paid, &t.Redeemed, &t.RequireAttention,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select ticket: %w", err)
	}
	return &t, nil
}

// Redeem marks the ticket as used and queues the check-in for upload.
// It returns ErrAlreadyRedeemed if another redemption won.
func (r *TicketSQLite) Redeem(ctx context.Context, c models.QueuedCheckin) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin redeem: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, redeemTicketSQL, c.Secret)
	if err != nil {
		return fmt.Errorf("redeem ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redeem rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, insertCheckinSQL, c.Nonce, c.Secret, c.DateTime.UTC()); err != nil {
		return fmt.Errorf("queue checkin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redeem: %w", err)
	}
	return nil
}

// PendingCheckins returns up to limit queued check-ins, oldest first.
func (r *TicketSQLite) PendingCheckins(ctx context.Context, limit int) ([]models.QueuedCheckin, error) {
	rows, err := r.db.QueryContext(ctx, selectPendingCheckinsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending checkins: %w", err)
	}
	defer rows.Close()

	var out []models.QueuedCheckin
	for rows.Next() {
		var c models.QueuedCheckin
		if err := rows.Scan(&c.Nonce, &c.Secret, &c.DateTime); err != nil {
			return nil, err
		}
		c.DateTime = c.DateTime.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *TicketSQLite) MarkUploaded(ctx context.Context, nonce string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, markCheckinUploadedSQL, at.UTC(), nonce)
	if err != nil {
		return fmt.Errorf("mark checkin %q uploaded: %w", nonce, err)
	}
	return nil
}

func (r *TicketSQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countTicketsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

// Clear drops the cache and the upload queue. Used when the terminal is
// reconfigured for another event.
func (r *TicketSQLite) Clear(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticket clear: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{deleteTicketsSQL, deleteCheckinsSQL} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear ticket cache: %w", err)
		}
	}
	return tx.Commit()
}
