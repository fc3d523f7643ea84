package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"otpauth/internal/models"
)

// PostgresStore keeps accounts in the accounts table created by
// database.Migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, email string) (models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx, `
		select account_id, email, first_name, last_name, password_hash, is_verified,
		       verified_at, last_login, created_at, updated_at
		from accounts
		where email = $1
	`, key(email)).Scan(
		&a.ID,
		&a.Email,
		&a.FirstName,
		&a.LastName,
		&a.PasswordHash,
		&a.IsVerified,
		&a.VerifiedAt,
		&a.LastLogin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return models.Account{}, mapPgErr(err)
	}
	return a, nil
}

func (s *PostgresStore) Set(ctx context.Context, email string, a models.Account) error {
	_, err := s.pool.Exec(ctx, `
		insert into accounts (account_id, email, first_name, last_name, password_hash, is_verified,
		                      verified_at, last_login, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict (email) do update
		set account_id = excluded.account_id,
		    first_name = excluded.first_name,
		    last_name = excluded.last_name,
		    password_hash = excluded.password_hash,
		    is_verified = excluded.is_verified,
		    verified_at = excluded.verified_at,
		    last_login = excluded.last_login,
		    created_at = excluded.created_at,
		    updated_at = excluded.updated_at
	`, a.ID, key(email), a.FirstName, a.LastName, a.PasswordHash, a.IsVerified,
		a.VerifiedAt, a.LastLogin, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPgErr(err)
	}
	return nil
}

func (s *PostgresStore) Has(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `select exists(select 1 from accounts where email = $1)`, key(email)).Scan(&exists)
	if err != nil {
		return false, mapPgErr(err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, email string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `delete from accounts where email = $1`, key(email))
	if err != nil {
		return false, mapPgErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func mapPgErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		default:
			return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
		}
	}
	return err
}
