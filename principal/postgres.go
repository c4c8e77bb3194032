package principal

import (
	"context"
	"errors"
	"fmt"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the principals table. Status values match
// goSession.AccountStatus.
const Schema = `
CREATE TABLE IF NOT EXISTS principals (
	id              TEXT PRIMARY KEY,
	identifier      TEXT NOT NULL UNIQUE,
	credential_hash TEXT NOT NULL,
	status          SMALLINT NOT NULL DEFAULT 0,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	lock_count      INTEGER NOT NULL DEFAULT 0,
	locked_until    TIMESTAMPTZ
)`

const principalColumns = `id, identifier, credential_hash, status, failed_attempts, lock_count, locked_until`

// DB is the subset of *pgxpool.Pool the repository needs. *pgx.Conn and
// pgx.Tx satisfy it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores principals in PostgreSQL. Counter updates are
// single UPDATE statements, so concurrent failures never lose increments.
type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema applies [Schema].
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("principal: ensure schema: %w", err)
	}
	return nil
}

// Create inserts a principal.
func (r *PostgresRepository) Create(ctx context.Context, p goSession.Principal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO principals (id, identifier, credential_hash, status)
		VALUES ($1, $2, $3, $4)
	`, p.ID, goSession.NormalizeIdentifier(p.Identifier), p.CredentialHash, int16(p.Status))
	if err != nil {
		return fmt.Errorf("principal: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (goSession.Principal, error) {
	row := r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE identifier = $1`,
		goSession.NormalizeIdentifier(identifier))
	return scanPrincipal(row)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (goSession.Principal, error) {
	row := r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

func (r *PostgresRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		UPDATE principals SET failed_attempts = failed_attempts + 1
		WHERE id = $1
		RETURNING failed_attempts
	`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, goSession.ErrPrincipalNotFound
		}
		return 0, fmt.Errorf("principal: increment failed attempts: %w", err)
	}
	return n, nil
}

// LockAccount only writes while failed_attempts is still at or above
// threshold and lock_count is still priorLocks. The first writer bumps
// lock_count, so racing failures past the threshold produce one lock event.
func (r *PostgresRepository) LockAccount(ctx context.Context, id string, until time.Time, threshold, priorLocks int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE principals
		SET status = $2, locked_until = $3, lock_count = lock_count + 1, failed_attempts = 0
		WHERE id = $1 AND failed_attempts >= $4 AND status <> $5 AND lock_count = $6
	`, id, int16(goSession.AccountLocked), until, threshold, int16(goSession.AccountDisabled), priorLocks)
	if err != nil {
		return false, fmt.Errorf("principal: lock account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE principals
		SET failed_attempts = 0, lock_count = 0, locked_until = NULL,
		    status = CASE WHEN status = $2 THEN $3 ELSE status END
		WHERE id = $1
	`, id, int16(goSession.AccountLocked), int16(goSession.AccountActive))
	if err != nil {
		return fmt.Errorf("principal: reset failed attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goSession.ErrPrincipalNotFound
	}
	return nil
}

// SetStatus changes an account's status.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status goSession.AccountStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE principals SET status = $2 WHERE id = $1`, id, int16(status))
	if err != nil {
		return fmt.Errorf("principal: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goSession.ErrPrincipalNotFound
	}
	return nil
}

func scanPrincipal(row pgx.Row) (goSession.Principal, error) {
	var (
		p           goSession.Principal
		status      int16
		lockedUntil *time.Time
	)
	err := row.Scan(&p.ID, &p.Identifier, &p.CredentialHash, &status, &p.FailedAttempts, &p.LockCount, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return goSession.Principal{}, goSession.ErrPrincipalNotFound
		}
		return goSession.Principal{}, fmt.Errorf("principal: scan: %w", err)
	}
	p.Status = goSession.AccountStatus(status)
	if lockedUntil != nil {
		p.LockedUntil = *lockedUntil
	}
	return p, nil
}

var _ goSession.PrincipalRepository = (*PostgresRepository)(nil)
