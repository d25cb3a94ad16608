package subaccount

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

// SeedDemo creates a demo company with one active subaccount on a trial.
func (s *Service) SeedDemo(ctx context.Context) (*model.Subaccount, error) {
	company := &model.Company{Name: demoCompanyName, BillingMode: model.BillingModeManual, IsActive: true}
	if err := s.companies.Create(ctx, company); err != nil {
		return nil, fmt.Errorf("failed to create demo company: %w", err)
	}

	suffix, err := security.RandomHex(4)
	if err != nil {
		return nil, err
	}
	loc := "demo-" + suffix
	sub := &model.Subaccount{
		CompanyID:  &company.ID,
		LocationID: &loc,
		Name:       "Demo Location",
		Email:      "demo@example.com",
		Role:       model.RoleUser,
		Status:     model.SubaccountStatusActive,
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return err
		}
		_, err := s.billing.StartTrial(ctx, tx, sub.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed demo subaccount: %w", err)
	}
	return sub, nil
}

// CleanupDemo removes demo subaccounts and disables demo companies. It keeps
// going past individual failures and returns how many rows it removed.
func (s *Service) CleanupDemo(ctx context.Context) (int, error) {
	companies, err := s.companies.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list companies: %w", err)
	}

	removed := 0
	for _, c := range companies {
		if c.Name != demoCompanyName || !c.IsActive {
			continue
		}
		id := c.ID
		subs, err := s.repo.List(ctx, model.SubaccountFilter{CompanyID: &id, IncludeInactive: true})
		if err != nil {
			s.logger.Warn().Err(err).Str("company_id", id.String()).Msg("demo cleanup: list failed")
			continue
		}
		for _, sub := range subs {
			if err := s.repo.Delete(ctx, sub.ID); err != nil {
				s.logger.Warn().Err(err).Str("subaccount_id", sub.ID.String()).Msg("demo cleanup: delete failed")
				continue
			}
			removed++
		}
		c.IsActive = false
		if err := s.companies.Update(ctx, c); err != nil {
			s.logger.Warn().Err(err).Str("company_id", id.String()).Msg("demo cleanup: disable failed")
		}
	}
	return removed, nil
}
