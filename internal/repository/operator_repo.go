package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"ticket_desk/internal/models"
)

// OperatorRepository stores the local operator accounts that may change
// terminal settings.
type OperatorRepository struct {
	db *sql.DB
}

func NewOperatorRepository(db *sql.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

var _ Authorization = (*OperatorRepository)(nil)

// ErrOperatorsExist is returned by CreateFirst once any operator exists.
var ErrOperatorsExist = errors.New("operators already exist")

const (
	insertOperatorSQL      = `INSERT INTO operators (username, password_hash) VALUES (?, ?)`
	insertFirstOperatorSQL = `INSERT INTO operators (username, password_hash)
SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM operators)`
	selectOperatorByUsernameSQL = `SELECT id, username, password_hash FROM operators WHERE username = ?`
)

// Create inserts a new operator and returns its ID.
func (r *OperatorRepository) Create(username, passwordHash string) (int, error) {
	res, err := r.db.Exec(insertOperatorSQL, username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("insert operator %q: %w", username, err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id for operator %q: %w", username, err)
	}
	return int(lastID), nil
}

// CreateFirst inserts the very first operator of the terminal. The
// emptiness check and the insert are one statement, so two concurrent
// callers cannot both succeed.
func (r *OperatorRepository) CreateFirst(username, passwordHash string) (int, error) {
	res, err := r.db.Exec(insertFirstOperatorSQL, username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("insert first operator %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert first operator %q: %w", username, err)
	}
	if n == 0 {
		return 0, ErrOperatorsExist
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id for operator %q: %w", username, err)
	}
	return int(lastID), nil
}

// GetByUsername returns (nil, nil) if the operator does not exist.
func (r *OperatorRepository) GetByUsername(username string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.QueryRow(selectOperatorByUsernameSQL, username).Scan(&op.ID, &op.Username, &op.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select operator %q: %w", username, err)
	}
	return &op, nil
}
