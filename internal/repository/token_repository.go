package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/testdeck/internal/model"
)

// TokenRepo persists refresh token rows.  A row's existence is the refresh
// grant: rotation and logout delete rows, nothing is soft-revoked.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Create inserts a refresh token row and returns its id.
func (r *TokenRepo) Create(ctx context.Context, userID uint64, token string, exp time.Time) (uint64, error) {
	return insertToken(ctx, r.DB, userID, token, exp)
}

// GetByToken looks a row up by the exact token string.
func (r *TokenRepo) GetByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens WHERE token=? LIMIT 1",
		token).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, err
	}
	return t, nil
}

// Delete removes a row by id.  Deleting a missing row returns ErrNotFound.
func (r *TokenRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllForUser removes every refresh token of a user and returns how
// many there were.
func (r *TokenRepo) DeleteAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id=?", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rotate deletes the consumed row and inserts its successor in a single
// transaction.  The delete is a compare-and-delete on (id, user_id): when
// it affects no rows another request already rotated or revoked the token
// and ErrTokenConsumed is returned with nothing written.
func (r *TokenRepo) Rotate(ctx context.Context, oldID, userID uint64, token string, exp time.Time) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id=? AND user_id=?", oldID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete consumed token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTokenConsumed
	}
	id, err := insertToken(ctx, tx, userID, token, exp)
	if err != nil {
		return 0, fmt.Errorf("insert successor token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rotate: %w", err)
	}
	return id, nil
}

// PurgeExpired deletes rows whose expiry is at or before now.
func (r *TokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, userID uint64, token string, exp time.Time) (uint64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token, expires_at, created_at) VALUES (?,?,?,?)",
		userID, token, exp.UTC(), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}
