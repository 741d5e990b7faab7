// Package settings reads the single-row shop configuration.
package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
)

type SettingsRepository struct {
	db *postgres.DB
}

func NewSettingsRepository(db *postgres.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the current settings, or nil when the row has never been
// written; callers fall back to defaults.
func (r *SettingsRepository) Get(ctx context.Context) (*domain.SiteSettings, error) {
	var s domain.SiteSettings
	err := r.db.Q(ctx).QueryRowContext(ctx, `
		SELECT deposit_percentage, shipping_cost, bank_transfer_account, mobile_wallet_number, updated_at
		FROM site_settings
		LIMIT 1
	`).Scan(&s.DepositPercentage, &s.ShippingCost, &s.BankTransferAccount, &s.MobileWalletNumber, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select site settings: %w", err)
	}
	return &s, nil
}
