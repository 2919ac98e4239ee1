// Package payment stands in for the payment gateway: a pass/fail charge and a best-effort refund.
package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MockOracle approves every charge except those whose method is in the declined set.
type MockOracle struct {
	declined map[string]struct{}
	logger   *zap.Logger
}

func NewMockOracle(declinedMethods []string, logger *zap.Logger) *MockOracle {
	declined := make(map[string]struct{}, len(declinedMethods))
	for _, m := range declinedMethods {
		declined[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}

	return &MockOracle{declined: declined, logger: logger}
}

// Authorize reports whether payment for the hold is approved.
func (o *MockOracle) Authorize(_ context.Context, buyerID int64, holdID uuid.UUID, method string) (bool, error) {
	_, declined := o.declined[strings.ToUpper(strings.TrimSpace(method))]

	o.logger.Info("payment authorization",
		zap.Int64("buyer_id", buyerID),
		zap.String("hold_id", holdID.String()),
		zap.String("method", method),
		zap.Bool("approved", !declined),
	)

	return !declined, nil
}

func (o *MockOracle) Refund(_ context.Context, bookingID uuid.UUID, amountCents int64) error {
	o.logger.Info("refund issued",
		zap.String("booking_id", bookingID.String()),
		zap.Int64("amount_cents", amountCents),
	)

	return nil
}
