package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"medihan/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

func newPending(provider models.Provider, providerID, email string, createdAt time.Time) models.NewAccount {
	return models.NewAccount{
		Email:         email,
		Nickname:      "tester",
		Provider:      provider,
		ProviderID:    providerID,
		PrivacyAgreed: true,
		TermsAgreed:   true,
		CategoryIDs:   []int64{3, 7},
		CreatedAt:     createdAt,
	}
}

func TestCreatePendingAndFind(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	created, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", now))
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("created.ID = %d, want positive", created.ID)
	}
	if created.Status != models.StatusPending || created.TokenVersion != 0 {
		t.Fatalf("created = %s/%d, want PENDING/0", created.Status, created.TokenVersion)
	}

	found, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.Email != "a@example.com" || found.ProviderID != "k-1" {
		t.Fatalf("found = %+v", found)
	}
	if !found.CreatedAt.Equal(now) {
		t.Fatalf("found.CreatedAt = %v, want %v", found.CreatedAt, now)
	}
	if found.PrivacyAgreedAt == nil {
		t.Fatal("found.PrivacyAgreedAt = nil, want timestamp")
	}

	interests, err := repo.ListInterests(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListInterests() error = %v", err)
	}
	if len(interests) != 2 || interests[0] != 3 || interests[1] != 7 {
		t.Fatalf("interests = %v, want [3 7]", interests)
	}
}

func TestCreatePendingRejectsCollisions(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	if _, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", now)); err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	tests := []struct {
		name string
		in   models.NewAccount
	}{
		{name: "same provider identity", in: newPending(models.ProviderKakao, "k-1", "other@example.com", now)},
		{name: "same email other provider", in: newPending(models.ProviderNaver, "n-1", "a@example.com", now)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CreatePending(ctx, tt.in)
			if !errors.Is(err, models.ErrDuplicate) {
				t.Fatalf("CreatePending() error = %v, want ErrDuplicate", err)
			}
		})
	}
}

func TestCreatePendingAllowsEmptyEmails(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	if _, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "", now)); err != nil {
		t.Fatalf("CreatePending() first error = %v", err)
	}
	if _, err := repo.CreatePending(ctx, newPending(models.ProviderNaver, "n-1", "", now)); err != nil {
		t.Fatalf("CreatePending() second error = %v", err)
	}
}

func TestCreatePendingConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreatePending(ctx, newPending(models.ProviderNaver, "n-race", "race@example.com", now))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrDuplicate):
		default:
			t.Fatalf("CreatePending() unexpected error = %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", succeeded)
	}

	_, total, err := repo.CountPending(ctx, now)
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("total pending = %d, want 1", total)
	}
}

func TestFindByIdentityPrefersProviderMatch(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	byEmail, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", now))
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	byProvider, err := repo.CreatePending(ctx, newPending(models.ProviderNaver, "n-1", "b@example.com", now))
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	got, err := repo.FindByIdentity(ctx, models.ProviderNaver, "n-1", "a@example.com")
	if err != nil {
		t.Fatalf("FindByIdentity() error = %v", err)
	}
	if got.ID != byProvider.ID {
		t.Fatalf("FindByIdentity() id = %d, want %d", got.ID, byProvider.ID)
	}

	got, err = repo.FindByIdentity(ctx, models.ProviderNaver, "n-unknown", "a@example.com")
	if err != nil {
		t.Fatalf("FindByIdentity() by email error = %v", err)
	}
	if got.ID != byEmail.ID {
		t.Fatalf("FindByIdentity() id = %d, want %d", got.ID, byEmail.ID)
	}

	if _, err := repo.FindByIdentity(ctx, models.ProviderNaver, "n-unknown", ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("FindByIdentity() error = %v, want ErrNotFound", err)
	}
}

func TestFindByEmailExcludingProvider(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()

	if _, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	dups, err := repo.FindByEmailExcludingProvider(ctx, "a@example.com", models.ProviderNaver)
	if err != nil {
		t.Fatalf("FindByEmailExcludingProvider() error = %v", err)
	}
	if len(dups) != 1 || dups[0].Provider != models.ProviderKakao {
		t.Fatalf("dups = %+v, want one kakao account", dups)
	}

	dups, err = repo.FindByEmailExcludingProvider(ctx, "a@example.com", models.ProviderKakao)
	if err != nil {
		t.Fatalf("FindByEmailExcludingProvider() error = %v", err)
	}
	if len(dups) != 0 {
		t.Fatalf("dups = %+v, want none", dups)
	}
}

func TestActivateIsGuarded(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	created, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", now))
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	activated, err := repo.Activate(ctx, created.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if activated.Status != models.StatusActive || activated.TokenVersion != 1 {
		t.Fatalf("activated = %s/%d, want ACTIVE/1", activated.Status, activated.TokenVersion)
	}

	if _, err := repo.Activate(ctx, created.ID, now.Add(2*time.Minute)); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second Activate() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Activate(ctx, 9999, now); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Activate(missing) error = %v, want ErrNotFound", err)
	}
}

func TestBumpTokenVersion(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Now().UTC()

	created, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-1", "a@example.com", now))
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	if _, err := repo.BumpTokenVersion(ctx, created.ID, 0, now); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("BumpTokenVersion(pending) error = %v, want ErrNotFound", err)
	}

	if _, err := repo.Activate(ctx, created.ID, now); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	version, err := repo.BumpTokenVersion(ctx, created.ID, 1, now)
	if err != nil {
		t.Fatalf("BumpTokenVersion() error = %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}

	if _, err := repo.BumpTokenVersion(ctx, created.ID, 1, now); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("BumpTokenVersion(stale) error = %v, want ErrNotFound", err)
	}
}

func TestDeletePendingBefore(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Accounts()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	stale, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-old", "old@example.com", now.Add(-48*time.Hour)))
	if err != nil {
		t.Fatalf("CreatePending(stale) error = %v", err)
	}
	fresh, err := repo.CreatePending(ctx, newPending(models.ProviderKakao, "k-new", "new@example.com", now.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("CreatePending(fresh) error = %v", err)
	}
	activeOld, err := repo.CreatePending(ctx, newPending(models.ProviderNaver, "n-old", "active@example.com", now.Add(-72*time.Hour)))
	if err != nil {
		t.Fatalf("CreatePending(active) error = %v", err)
	}
	if _, err := repo.Activate(ctx, activeOld.ID, now); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	cutoff := now.Add(-24 * time.Hour)
	staleCount, total, err := repo.CountPending(ctx, cutoff)
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if staleCount != 1 || total != 2 {
		t.Fatalf("CountPending() = (%d, %d), want (1, 2)", staleCount, total)
	}

	deleted, err := repo.DeletePendingBefore(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("DeletePendingBefore() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.FindByID(ctx, stale.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("FindByID(stale) error = %v, want ErrNotFound", err)
	}
	interests, err := repo.ListInterests(ctx, stale.ID)
	if err != nil {
		t.Fatalf("ListInterests() error = %v", err)
	}
	if len(interests) != 0 {
		t.Fatalf("stale interests = %v, want none", interests)
	}
	if _, err := repo.FindByID(ctx, fresh.ID); err != nil {
		t.Fatalf("FindByID(fresh) error = %v", err)
	}
	if _, err := repo.FindByID(ctx, activeOld.ID); err != nil {
		t.Fatalf("FindByID(active) error = %v", err)
	}
}
