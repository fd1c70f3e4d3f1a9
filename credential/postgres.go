package credential

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/authcore/credential/migrations"
)

// PostgresStore implements [Store] and [Sweeper] over database/sql.
//
// Rows do not expire on their own; run [PostgresStore.SweepExpired] with a
// cutoff of now minus the retention window.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. Open it with the "pgx" driver.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pgx-backed handle for dsn and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("credential migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = unavailable(cerr)
		}
	}()

	return fn(tx)
}

func (s *PostgresStore) PutRefreshRecord(ctx context.Context, rec *RefreshRecord, _ time.Duration) error {
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}

	query := `
		INSERT INTO refresh_records (owner, token_hash, version, issued_at, expires_at, revoked)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (owner) DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			version = refresh_records.version + 1,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			revoked = EXCLUDED.revoked
		RETURNING version
	`
	var version int64
	err := s.db.QueryRowContext(ctx, query,
		rec.Owner, rec.TokenHash[:], rec.IssuedAt, rec.ExpiresAt, rec.Revoked).Scan(&version)
	if err != nil {
		return unavailable(err)
	}
	rec.Version = uint32(version)
	return nil
}

func (s *PostgresStore) GetRefreshRecord(ctx context.Context, owner string) (*RefreshRecord, error) {
	query := `
		SELECT token_hash, version, issued_at, expires_at, revoked
		FROM refresh_records
		WHERE owner = $1
	`
	rec, err := scanRefresh(s.db.QueryRowContext(ctx, query, owner))
	if err != nil {
		return nil, err
	}
	rec.Owner = owner
	return rec, nil
}

func (s *PostgresStore) RotateRefreshRecord(
	ctx context.Context,
	owner string,
	presented, next [32]byte,
	now, nextExpiresAt time.Time,
) (*RefreshRecord, error) {
	var out *RefreshRecord

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT token_hash, version, issued_at, expires_at, revoked
			FROM refresh_records
			WHERE owner = $1
			FOR UPDATE
		`
		rec, err := scanRefresh(tx.QueryRowContext(ctx, query, owner))
		if err != nil {
			return err
		}

		switch {
		case rec.Revoked:
			return ErrRefreshRevoked
		case rec.Expired(now):
			return ErrRefreshExpired
		case subtle.ConstantTimeCompare(rec.TokenHash[:], presented[:]) != 1:
			return ErrRefreshHashMismatch
		}

		rec.Owner = owner
		rec.TokenHash = next
		rec.Version++
		rec.IssuedAt = now
		if !nextExpiresAt.IsZero() {
			rec.ExpiresAt = nextExpiresAt
		}

		update := `
			UPDATE refresh_records
			SET token_hash = $2, version = $3, issued_at = $4, expires_at = $5
			WHERE owner = $1
		`
		if _, err := tx.ExecContext(ctx, update,
			owner, next[:], int64(rec.Version), rec.IssuedAt, rec.ExpiresAt); err != nil {
			return unavailable(err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) RevokeAllForOwner(ctx context.Context, owner string) error {
	query := `
		UPDATE refresh_records
		SET revoked = TRUE
		WHERE owner = $1
	`
	_, err := s.db.ExecContext(ctx, query, owner)
	return unavailable(err)
}

func (s *PostgresStore) PutChallenge(ctx context.Context, rec *ChallengeRecord, _ time.Duration) error {
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}

	query := `
		INSERT INTO challenges (id, owner, type, code_hash, expires_at, consumed, attempts)
		VALUES ($1, $2, $3, $4, $5, FALSE, 0)
		ON CONFLICT (owner, type) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			consumed = FALSE,
			attempts = 0
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Owner, int16(rec.Type), rec.CodeHash[:], rec.ExpiresAt)
	return unavailable(err)
}

func (s *PostgresStore) GetActiveChallenge(ctx context.Context, owner string, typ ChallengeType) (*ChallengeRecord, error) {
	query := `
		SELECT id, code_hash, expires_at, consumed, attempts
		FROM challenges
		WHERE owner = $1 AND type = $2
	`
	var (
		rec      = &ChallengeRecord{Owner: owner, Type: typ}
		hash     []byte
		attempts int64
	)
	err := s.db.QueryRowContext(ctx, query, owner, int16(typ)).
		Scan(&rec.ID, &hash, &rec.ExpiresAt, &rec.Consumed, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	if len(hash) != len(rec.CodeHash) {
		return nil, ErrRecordCorrupt
	}
	copy(rec.CodeHash[:], hash)
	rec.Attempts = uint16(attempts)
	return rec, nil
}

func (s *PostgresStore) ConsumeChallenge(ctx context.Context, id string) error {
	update := `
		UPDATE challenges
		SET consumed = TRUE
		WHERE id = $1 AND consumed = FALSE
	`
	res, err := s.db.ExecContext(ctx, update, id)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 1 {
		return nil
	}

	query := `
		SELECT consumed
		FROM challenges
		WHERE id = $1
	`
	var consumed bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&consumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return unavailable(err)
	}
	return ErrChallengeConsumed
}

func (s *PostgresStore) ReleaseChallenge(ctx context.Context, id string) error {
	update := `
		UPDATE challenges
		SET consumed = FALSE
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, update, id)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecordChallengeFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	update := `
		UPDATE challenges
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := s.db.QueryRowContext(ctx, update, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, unavailable(err)
	}
	if maxAttempts <= 0 || attempts < maxAttempts {
		return attempts, nil
	}

	del := `
		DELETE FROM challenges
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, del, id); err != nil {
		return attempts, unavailable(err)
	}
	return attempts, ErrChallengeAttemptsExceeded
}

// SweepExpired implements [Sweeper].
func (s *PostgresStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for _, query := range []string{
		`DELETE FROM refresh_records WHERE expires_at < $1`,
		`DELETE FROM challenges WHERE expires_at < $1`,
	} {
		res, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, unavailable(err)
		}
		total += int(n)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefresh(row rowScanner) (*RefreshRecord, error) {
	var (
		rec     = &RefreshRecord{}
		hash    []byte
		version int64
	)
	if err := row.Scan(&hash, &version, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	if len(hash) != len(rec.TokenHash) {
		return nil, ErrRecordCorrupt
	}
	copy(rec.TokenHash[:], hash)
	rec.Version = uint32(version)
	return rec, nil
}
