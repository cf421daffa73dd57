// Package voucher lists the vouchers a member can still redeem.
package voucher

import (
	"context"
	"fmt"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

// Redeemable statuses shown on the dashboard.
var Redeemable = []string{"Issued", "Active"}

type Service struct {
	runner query.Runner
}

func NewService(runner query.Runner) *Service {
	return &Service{runner: runner}
}

func (s *Service) ForAccount(ctx context.Context, accountID string) ([]model.Voucher, error) {
	vs, err := query.All[model.Voucher](ctx, s.runner,
		`SELECT Id, VoucherCode, Status, VoucherDefinition.Name, VoucherDefinition.Description FROM Voucher WHERE LoyaltyProgramMemberId = `+query.Quote(accountID)+` AND Status IN `+query.QuoteList(Redeemable))
	if err != nil {
		return nil, fmt.Errorf("vouchers for %s: %w", accountID, err)
	}
	return vs, nil
}
