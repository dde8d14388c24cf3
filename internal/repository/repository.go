package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ticket_desk/internal/models"
)

var (
	// ErrAlreadyRedeemed is returned when an offline redemption loses to an
	// earlier one for the same secret.
	ErrAlreadyRedeemed = errors.New("ticket already redeemed")
)

// DurableKV is a typed preference store. Getters and setters work on an
// in-memory view; nothing is durable until Flush returns nil.
type DurableKV interface {
	GetBytes(key string, def []byte) []byte
	PutBytes(key string, value []byte)
	GetBool(key string, def bool) bool
	PutBool(key string, value bool)
	GetInt(key string, def int) int
	PutInt(key string, value int)
	GetLong(key string, def int64) int64
	PutLong(key string, value int64)
	Get(key, def string) string
	Put(key, value string)
	Remove(key string)
	Flush(ctx context.Context) error
}

// BlobStore keeps large values in side files next to the database.
type BlobStore interface {
	Read(key string) (string, error)
	Write(key, value string) error
	Remove(key string) error
}

type Authorization interface {
	Create(username, hash string) (int, error)
	// CreateFirst fails with ErrOperatorsExist unless the table is empty.
	CreateFirst(username, hash string) (int, error)
	GetByUsername(username string) (*models.Operator, error)
}

type ScanEventRepo interface {
	Append(ctx context.Context, e models.ScanEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.ScanEvent, error)
}

type TicketRepo interface {
	ReplaceAll(ctx context.Context, tickets []models.Ticket) error
	GetBySecret(ctx context.Context, secret string) (*models.Ticket, error)
	Redeem(ctx context.Context, c models.QueuedCheckin) error
	PendingCheckins(ctx context.Context, limit int) ([]models.QueuedCheckin, error)
	MarkUploaded(ctx context.Context, nonce string, at time.Time) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type Repository struct {
	Prefs   DurableKV
	Blobs   BlobStore
	Scans   ScanEventRepo
	Tickets TicketRepo
	Auth    Authorization
}

// NewRepository loads the preference cache and wires all SQLite-backed
// repositories. Side files live in dataDir.
func NewRepository(ctx context.Context, db *sql.DB, dataDir string) (*Repository, error) {
	prefs, err := NewPrefsSQLite(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Repository{
		Prefs:   prefs,
		Blobs:   NewBlobFiles(dataDir),
		Scans:   NewScanEventSQLite(db),
		Tickets: NewTicketSQLite(db),
		Auth:    NewOperatorRepository(db),
	}, nil
}
