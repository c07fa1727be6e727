// Package pgstore is the PostgreSQL account store, used when
// database.driver is "postgres".
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"medihan/internal/models"
	"medihan/internal/pgstore/migrations"
)

const accountColumns = `id, email, nickname, profile_image, provider, provider_id, status, token_version,
	privacy_agreed, privacy_agreed_at, terms_agreed, marketing_agreed, age_group, gender, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against dsn, verifies it and applies migrations.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return New(pool), nil
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreatePending serialises on the email with a transaction-scoped advisory
// lock, so concurrent callers for the same person see each other's insert.
// The (provider, provider_id) constraint covers the identity itself.
func (s *Store) CreatePending(ctx context.Context, n models.NewAccount) (*models.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting pending account transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	lockKey := "identity:" + string(n.Provider) + ":" + n.ProviderID
	if n.Email != "" {
		lockKey = "email:" + n.Email
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, fmt.Errorf("locking pending identity: %w", err)
	}

	var existing int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM accounts
		WHERE (provider = $1 AND provider_id = $2)
		   OR ($3 <> '' AND email = $3)
		LIMIT 1
	`, string(n.Provider), n.ProviderID, n.Email).Scan(&existing)
	if err == nil {
		return nil, models.ErrDuplicate
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}

	createdAt := n.CreatedAt.UTC()
	var privacyAgreedAt *time.Time
	if n.PrivacyAgreed {
		privacyAgreedAt = &createdAt
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (email, nickname, profile_image, provider, provider_id, status, token_version,
			privacy_agreed, privacy_agreed_at, terms_agreed, marketing_agreed, age_group, gender, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id
	`, n.Email, n.Nickname, n.ProfileImage, string(n.Provider), n.ProviderID, string(models.StatusPending),
		n.PrivacyAgreed, privacyAgreedAt, n.TermsAgreed, n.MarketingAgreed, n.AgeGroup, n.Gender, createdAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicate
		}
		return nil, fmt.Errorf("creating pending account: %w", err)
	}

	if len(n.CategoryIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_interests (account_id, category_id, created_at)
			SELECT $1, unnest($2::bigint[]), $3
		`, id, n.CategoryIDs, createdAt); err != nil {
			return nil, fmt.Errorf("linking interests: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicate
		}
		return nil, fmt.Errorf("committing pending account: %w", err)
	}

	return &models.Account{
		ID:              id,
		Email:           n.Email,
		Nickname:        n.Nickname,
		ProfileImage:    n.ProfileImage,
		Provider:        n.Provider,
		ProviderID:      n.ProviderID,
		Status:          models.StatusPending,
		PrivacyAgreed:   n.PrivacyAgreed,
		PrivacyAgreedAt: privacyAgreedAt,
		TermsAgreed:     n.TermsAgreed,
		MarketingAgreed: n.MarketingAgreed,
		AgeGroup:        n.AgeGroup,
		Gender:          n.Gender,
		InterestIDs:     append([]int64(nil), n.CategoryIDs...),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	return s.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *Store) FindByIdentity(ctx context.Context, provider models.Provider, providerID, email string) (*models.Account, error) {
	return s.findOne(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE (provider = $1 AND provider_id = $2)
		   OR ($3 <> '' AND email = $3)
		ORDER BY (provider = $1 AND provider_id = $2) DESC, id ASC
		LIMIT 1
	`, string(provider), providerID, email)
}

func (s *Store) FindByEmailExcludingProvider(ctx context.Context, email string, provider models.Provider) ([]models.DuplicateAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider, nickname, profile_image FROM accounts
		WHERE email = $1 AND provider <> $2
		ORDER BY id
	`, email, string(provider))
	if err != nil {
		return nil, fmt.Errorf("querying accounts by email: %w", err)
	}
	defer rows.Close()

	accounts := make([]models.DuplicateAccount, 0)
	for rows.Next() {
		var d models.DuplicateAccount
		var p string
		if err := rows.Scan(&p, &d.Nickname, &d.ProfileImage); err != nil {
			return nil, fmt.Errorf("scanning duplicate account: %w", err)
		}
		d.Provider = models.Provider(p)
		accounts = append(accounts, d)
	}

	return accounts, rows.Err()
}

func (s *Store) ListInterests(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category_id FROM account_interests WHERE account_id = $1 ORDER BY category_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying interests: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning interest: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *Store) Activate(ctx context.Context, id int64, now time.Time) (*models.Account, error) {
	account, err := s.findOne(ctx, `
		UPDATE accounts
		SET status = $1, token_version = 1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+accountColumns,
		string(models.StatusActive), now.UTC(), id, string(models.StatusPending),
	)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("activating account: %w", err)
	}
	return account, nil
}

func (s *Store) BumpTokenVersion(ctx context.Context, id int64, expected int, now time.Time) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET token_version = token_version + 1, updated_at = $1
		WHERE id = $2 AND token_version = $3 AND status = $4
		RETURNING token_version
	`, now.UTC(), id, expected, string(models.StatusActive)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bumping token version: %w", err)
	}
	return version, nil
}

func (s *Store) DeletePendingBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("starting pending sweep transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id FROM accounts
		WHERE status = $1 AND created_at < $2
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, string(models.StatusPending), cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("listing stale pending accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("collecting stale pending accounts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM account_interests WHERE account_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("deleting stale pending interests: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM accounts
		WHERE id = ANY($1) AND status = $2 AND created_at < $3
	`, ids, string(models.StatusPending), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting stale pending accounts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing pending sweep: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (s *Store) CountPending(ctx context.Context, cutoff time.Time) (stale int64, total int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE created_at < $1), COUNT(*)
		FROM accounts
		WHERE status = $2
	`, cutoff.UTC(), string(models.StatusPending)).Scan(&stale, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting pending accounts: %w", err)
	}
	return stale, total, nil
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	var a models.Account
	var provider, status string

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.Email,
		&a.Nickname,
		&a.ProfileImage,
		&provider,
		&a.ProviderID,
		&status,
		&a.TokenVersion,
		&a.PrivacyAgreed,
		&a.PrivacyAgreedAt,
		&a.TermsAgreed,
		&a.MarketingAgreed,
		&a.AgeGroup,
		&a.Gender,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.Provider = models.Provider(provider)
	a.Status = models.Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.PrivacyAgreedAt != nil {
		t := a.PrivacyAgreedAt.UTC()
		a.PrivacyAgreedAt = &t
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
