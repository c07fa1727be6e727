// Package account implements the identity lifecycle: turning an OAuth
// identity into a PENDING then ACTIVE account, resolving request sessions
// and reaping abandoned registrations.
package account

import (
	"context"
	"time"

	"medihan/internal/models"
)

// Store is the account persistence used by this package. Both the SQLite
// repository and the Postgres store satisfy it. Lookups return
// models.ErrNotFound when nothing matches; CreatePending returns
// models.ErrDuplicate on a colliding identity or email.
type Store interface {
	CreatePending(ctx context.Context, n models.NewAccount) (*models.Account, error)
	FindByID(ctx context.Context, id int64) (*models.Account, error)
	FindByIdentity(ctx context.Context, provider models.Provider, providerID, email string) (*models.Account, error)
	FindByEmailExcludingProvider(ctx context.Context, email string, provider models.Provider) ([]models.DuplicateAccount, error)
	ListInterests(ctx context.Context, accountID int64) ([]int64, error)
	Activate(ctx context.Context, id int64, now time.Time) (*models.Account, error)
	BumpTokenVersion(ctx context.Context, id int64, expected int, now time.Time) (int, error)
	DeletePendingBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	CountPending(ctx context.Context, cutoff time.Time) (stale int64, total int64, err error)
	Ping(ctx context.Context) error
}
