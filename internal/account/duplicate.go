package account

import (
	"context"
	"fmt"

	"medihan/internal/models"
)

// DuplicateIdentityDetector reports other accounts that share an email
// under a different provider. The report is informational only.
type DuplicateIdentityDetector struct {
	store Store
}

func NewDuplicateIdentityDetector(store Store) *DuplicateIdentityDetector {
	return &DuplicateIdentityDetector{store: store}
}

// Check returns an empty report when email is blank, since not every
// provider shares one.
func (d *DuplicateIdentityDetector) Check(ctx context.Context, email string, excluding models.Provider) (*models.DuplicateAccountReport, error) {
	report := &models.DuplicateAccountReport{Accounts: []models.DuplicateAccount{}}

	email = normalizeEmail(email)
	if email == "" {
		return report, nil
	}

	accounts, err := d.store.FindByEmailExcludingProvider(ctx, email, excluding)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate email: %w", err)
	}

	report.Exists = len(accounts) > 0
	report.Accounts = accounts
	return report, nil
}
