package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"medihan/internal/models"
)

const accountColumns = `id, email, nickname, profile_image, provider, provider_id, status, token_version,
	privacy_agreed, privacy_agreed_at, terms_agreed, marketing_agreed, age_group, gender, created_at, updated_at`

type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// CreatePending re-checks for a colliding account and inserts the PENDING
// account with its interests in one transaction. A collision on email or on
// (provider, provider_id) returns models.ErrDuplicate.
func (r *AccountRepository) CreatePending(ctx context.Context, n models.NewAccount) (*models.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting pending account transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM accounts
		  WHERE (provider = ? AND provider_id = ?)
		     OR (? <> '' AND email = ?)
		  LIMIT 1`,
		string(n.Provider), n.ProviderID, n.Email, n.Email,
	).Scan(&existing)
	if err == nil {
		return nil, models.ErrDuplicate
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}

	createdAt := n.CreatedAt.UTC()
	var privacyAgreedAt *time.Time
	if n.PrivacyAgreed {
		privacyAgreedAt = &createdAt
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO accounts (email, nickname, profile_image, provider, provider_id, status, token_version,
		   privacy_agreed, privacy_agreed_at, terms_agreed, marketing_agreed, age_group, gender, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		n.Email, n.Nickname, n.ProfileImage, string(n.Provider), n.ProviderID, string(models.StatusPending),
		n.PrivacyAgreed, timePtrUTC(privacyAgreedAt), n.TermsAgreed, n.MarketingAgreed, n.AgeGroup, n.Gender,
		createdAt, createdAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicate
		}
		return nil, fmt.Errorf("creating pending account: %w", err)
	}

	for _, categoryID := range n.CategoryIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_interests (account_id, category_id, created_at) VALUES (?, ?, ?)`,
			id, categoryID, createdAt,
		); err != nil {
			return nil, fmt.Errorf("linking interest %d: %w", categoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
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
		TokenVersion:    0,
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

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// FindByIdentity returns the account linked to (provider, providerID), or
// failing that the oldest account sharing email.
func (r *AccountRepository) FindByIdentity(ctx context.Context, provider models.Provider, providerID, email string) (*models.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts
		  WHERE (provider = ? AND provider_id = ?)
		     OR (? <> '' AND email = ?)
		  ORDER BY (provider = ? AND provider_id = ?) DESC, id ASC
		  LIMIT 1`,
		string(provider), providerID, email, email, string(provider), providerID,
	)
}

func (r *AccountRepository) FindByEmailExcludingProvider(ctx context.Context, email string, provider models.Provider) ([]models.DuplicateAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, nickname, profile_image FROM accounts WHERE email = ? AND provider <> ? ORDER BY id`,
		email, string(provider),
	)
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

func (r *AccountRepository) ListInterests(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category_id FROM account_interests WHERE account_id = ? ORDER BY category_id`,
		accountID,
	)
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

// Activate moves a PENDING account to ACTIVE with token version 1. An
// account that is missing or no longer PENDING matches no row and returns
// models.ErrNotFound.
func (r *AccountRepository) Activate(ctx context.Context, id int64, now time.Time) (*models.Account, error) {
	account, err := r.findOne(ctx,
		`UPDATE accounts
		    SET status = ?, token_version = 1, updated_at = ?
		  WHERE id = ?
		    AND status = ?
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

// BumpTokenVersion advances the token version of an ACTIVE account only if
// it still equals expected, and returns the new version.
func (r *AccountRepository) BumpTokenVersion(ctx context.Context, id int64, expected int, now time.Time) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts
		    SET token_version = token_version + 1, updated_at = ?
		  WHERE id = ?
		    AND token_version = ?
		    AND status = ?
		RETURNING token_version`,
		now.UTC(), id, expected, string(models.StatusActive),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bumping token version: %w", err)
	}
	return version, nil
}

// DeletePendingBefore removes up to limit PENDING accounts created before
// cutoff, interests first, in a single transaction.
func (r *AccountRepository) DeletePendingBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting pending sweep transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM accounts WHERE status = ? AND created_at < ? ORDER BY id LIMIT ?`,
		string(models.StatusPending), cutoff.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("listing stale pending accounts: %w", err)
	}
	var ids []any
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning stale pending account: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterating stale pending accounts: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	guard := `status = ? AND created_at < ?`
	guardArgs := []any{string(models.StatusPending), cutoff.UTC()}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_interests
		  WHERE account_id IN (SELECT id FROM accounts WHERE id IN (`+placeholders+`) AND `+guard+`)`,
		append(append([]any{}, ids...), guardArgs...)...,
	); err != nil {
		return 0, fmt.Errorf("deleting stale pending interests: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM accounts WHERE id IN (`+placeholders+`) AND `+guard,
		append(append([]any{}, ids...), guardArgs...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale pending accounts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing pending sweep: %w", err)
	}

	return deleted, nil
}

func (r *AccountRepository) CountPending(ctx context.Context, cutoff time.Time) (stale int64, total int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN created_at < ? THEN 1 ELSE 0 END), 0), COUNT(*)
		   FROM accounts WHERE status = ?`,
		cutoff.UTC(), string(models.StatusPending),
	).Scan(&stale, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting pending accounts: %w", err)
	}
	return stale, total, nil
}

func (r *AccountRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	var a models.Account
	var provider, status string
	var privacyAgreedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID,
		&a.Email,
		&a.Nickname,
		&a.ProfileImage,
		&provider,
		&a.ProviderID,
		&status,
		&a.TokenVersion,
		&a.PrivacyAgreed,
		&privacyAgreedAt,
		&a.TermsAgreed,
		&a.MarketingAgreed,
		&a.AgeGroup,
		&a.Gender,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.Provider = models.Provider(provider)
	a.Status = models.Status(status)
	a.PrivacyAgreedAt = nullTimeToPtr(privacyAgreedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return &a, nil
}
