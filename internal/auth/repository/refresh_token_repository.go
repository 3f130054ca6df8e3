package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	"github.com/AlibekovAA/refresh-guard/internal/common/db"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

const uniqueViolation = "23505"

const selectColumns = `token_id, user_id, expires_at, revoked, user_agent, source_ip, created_at`

// PgxPool is the part of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PgRefreshTokenRepository stores consumed tokens as rows with consumed_at set.
// Per-user mutations take pg_advisory_xact_lock on the user id.
type PgRefreshTokenRepository struct {
	pool  PgxPool
	clock clock.Clock
	log   *logger.Logger
}

func NewPgRefreshTokenRepository(pool PgxPool, clk clock.Clock, log *logger.Logger) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{pool: pool, clock: clk, log: log}
}

func lockUser(ctx context.Context, tx pgx.Tx, userID userdomain.ID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(userID))
	return err
}

func insertToken(ctx context.Context, tx pgx.Tx, params CreateParams, createdAt time.Time) (authdomain.RefreshTokenRecord, error) {
	row := tx.QueryRow(
		ctx,
		`INSERT INTO refresh_tokens (token_id, user_id, expires_at, user_agent, source_ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (token_id) DO NOTHING
		 RETURNING `+selectColumns,
		params.TokenID,
		string(params.UserID),
		params.ExpiresAt,
		params.UserAgent,
		params.SourceIP,
		createdAt,
	)
	record, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) {
			return authdomain.RefreshTokenRecord{}, ErrDuplicateTokenID
		}
		return authdomain.RefreshTokenRecord{}, err
	}
	return record, nil
}

func scanRecord(row pgx.Row) (authdomain.RefreshTokenRecord, error) {
	var record authdomain.RefreshTokenRecord
	var userID string
	err := row.Scan(
		&record.TokenID,
		&userID,
		&record.ExpiresAt,
		&record.Revoked,
		&record.UserAgent,
		&record.SourceIP,
		&record.CreatedAt,
	)
	record.UserID = userdomain.ID(userID)
	return record, err
}

func (r *PgRefreshTokenRepository) Create(ctx context.Context, params CreateParams) (authdomain.RefreshTokenRecord, error) {
	start := time.Now()
	var record authdomain.RefreshTokenRecord

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, params.UserID); err != nil {
			return err
		}
		var err error
		record, err = insertToken(ctx, tx, params, r.clock.Now())
		return err
	})
	if errors.Is(err, ErrDuplicateTokenID) {
		db.MeasureQueryDuration("create refresh token", start)
		return authdomain.RefreshTokenRecord{}, err
	}
	if err := db.HandleExecError(err, "create refresh token", start); err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}
	return record, nil
}

func (r *PgRefreshTokenRepository) FindByID(ctx context.Context, tokenID string) (authdomain.RefreshTokenRecord, error) {
	start := time.Now()
	var record authdomain.RefreshTokenRecord

	err := db.RetryWithBackoff(ctx, r.log, db.DefaultRetryConfig, func() error {
		var err error
		record, err = scanRecord(r.pool.QueryRow(
			ctx,
			`SELECT `+selectColumns+`
			 FROM refresh_tokens
			 WHERE token_id = $1 AND consumed_at IS NULL`,
			tokenID,
		))
		return err
	})
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, "find refresh token", start); err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}
	return record, nil
}

func (r *PgRefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`UPDATE refresh_tokens SET revoked = TRUE
		 WHERE token_id = $1 AND consumed_at IS NULL`,
		tokenID,
	)
	return db.HandleExecError(err, "revoke refresh token", start)
}

func (r *PgRefreshTokenRepository) Delete(ctx context.Context, tokenID string) (bool, error) {
	start := time.Now()
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM refresh_tokens WHERE token_id = $1 AND consumed_at IS NULL`,
		tokenID,
	)
	if err := db.HandleExecError(err, "delete refresh token", start); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID userdomain.ID) (int, error) {
	start := time.Now()
	var affected int64

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(
			ctx,
			`UPDATE refresh_tokens SET revoked = TRUE
			 WHERE user_id = $1 AND consumed_at IS NULL`,
			string(userID),
		)
		affected = tag.RowsAffected()
		return err
	})
	if err := db.HandleExecError(err, "revoke user refresh tokens", start); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *PgRefreshTokenRepository) Rotate(ctx context.Context, oldTokenID string, next CreateParams) (authdomain.RefreshTokenRecord, error) {
	start := time.Now()
	var old authdomain.RefreshTokenRecord

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, next.UserID); err != nil {
			return err
		}

		var consumedAt *time.Time
		var userID string
		err := tx.QueryRow(
			ctx,
			`SELECT `+selectColumns+`, consumed_at
			 FROM refresh_tokens
			 WHERE token_id = $1
			 FOR UPDATE`,
			oldTokenID,
		).Scan(
			&old.TokenID,
			&userID,
			&old.ExpiresAt,
			&old.Revoked,
			&old.UserAgent,
			&old.SourceIP,
			&old.CreatedAt,
			&consumedAt,
		)
		old.UserID = userdomain.ID(userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRefreshTokenNotFound
		}
		if err != nil {
			return err
		}

		if old.UserID != next.UserID {
			return ErrRefreshTokenOwnerMismatch
		}
		if consumedAt != nil {
			old.Revoked = true
			return ErrRefreshTokenConsumed
		}
		if old.Revoked {
			return ErrRefreshTokenRevoked
		}
		now := r.clock.Now()
		if old.ExpiredAt(now) {
			return ErrRefreshTokenExpired
		}

		if _, err := tx.Exec(
			ctx,
			`UPDATE refresh_tokens SET consumed_at = $2 WHERE token_id = $1`,
			oldTokenID,
			now,
		); err != nil {
			return err
		}

		_, err = insertToken(ctx, tx, next, now)
		return err
	})

	switch {
	case err == nil:
		db.MeasureQueryDuration("rotate refresh token", start)
		return old, nil
	case errors.Is(err, ErrRefreshTokenRevoked),
		errors.Is(err, ErrRefreshTokenConsumed),
		errors.Is(err, ErrRefreshTokenExpired):
		db.MeasureQueryDuration("rotate refresh token", start)
		return old, err
	case IsStoreOutcome(err):
		db.MeasureQueryDuration("rotate refresh token", start)
		return authdomain.RefreshTokenRecord{}, err
	default:
		return authdomain.RefreshTokenRecord{}, db.HandleExecError(err, "rotate refresh token", start)
	}
}

func (r *PgRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var deleted int64
	err := db.RetryWithBackoff(ctx, r.log, db.DefaultRetryConfig, func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, r.clock.Now())
		deleted = tag.RowsAffected()
		return err
	})
	if err := db.HandleExecError(err, "delete expired refresh tokens", start); err != nil {
		return 0, err
	}
	return deleted, nil
}
