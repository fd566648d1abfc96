// Package payment charges users for subscription plans. There is no
// real gateway behind it: a charge that covers the plan price always
// succeeds, which keeps the purchase flow testable end to end.
package payment

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ca3003/crypto-analyzer-bot/internal/subscription"
)

// ErrInsufficientAmount is returned when the paid amount does not
// cover the plan price.
var ErrInsufficientAmount = errors.New("paid amount below plan price")

// Charge is the record of one simulated charge.
type Charge struct {
	UserID      int64
	Plan        string
	AmountCents int64
	Reference   string
}

// Processor validates and settles plan charges.
type Processor struct {
	logger zerolog.Logger
}

// NewProcessor creates a payment processor.
func NewProcessor() *Processor {
	return &Processor{
		logger: log.With().Str("component", "payment_processor").Logger(),
	}
}

// ChargePlan settles a charge of amountCents for the given plan. The
// amount must cover expectedCents; overpayment is accepted.
func (p *Processor) ChargePlan(userID int64, plan string, amountCents, expectedCents int64) (*Charge, error) {
	if !subscription.ValidatePayment(amountCents, expectedCents) {
		return nil, fmt.Errorf("%w: paid %d, want %d", ErrInsufficientAmount, amountCents, expectedCents)
	}

	charge := &Charge{
		UserID:      userID,
		Plan:        plan,
		AmountCents: amountCents,
		Reference:   fmt.Sprintf("sim_%d_%s", userID, plan),
	}

	p.logger.Info().
		Int64("user_id", userID).
		Str("plan", plan).
		Int64("amount_cents", amountCents).
		Str("reference", charge.Reference).
		Msg("Charge settled")

	return charge, nil
}

// FormatPrice renders integer cents as a user-facing dollar amount.
func FormatPrice(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
