// Package subscription decides whether a user may issue a paid action
// and how a purchase extends or renews a subscription.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ca3003/crypto-analyzer-bot/models"
)

// ErrInvalidPlan is returned when a purchase names a plan that is not
// in the price table. It is the only purchase failure that is not a
// storage failure.
var ErrInvalidPlan = errors.New("unknown subscription plan")

// Store is the user-record persistence the engine runs on. LockUser
// must serialize read-modify-write sequences for a single user ID.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*models.UserRecord, error)
	CreateUserIfAbsent(ctx context.Context, userID int64, username string) error
	SetSubscription(ctx context.Context, userID int64, subscriptionType string, startDate, endDate time.Time) error
	IncrementDailyRequests(ctx context.Context, userID int64, today time.Time) error
	LockUser(userID int64) (unlock func())
}

// Config tunes the engine. Zero values fall back to the shipped price
// table, a ten-request free-tier day and the wall clock.
type Config struct {
	Plans          map[string]models.Plan
	FreeDailyLimit int
	Now            func() time.Time
}

// Result is the transport-facing outcome of a purchase. Message is
// always safe to show to the user.
type Result struct {
	Success bool
	Message string
}

// Decision is the transport-facing outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine owns the subscription lifecycle: purchase renewal date math,
// price lookups and entitlement checks. It holds no mutable state of
// its own; all user state lives in the Store.
type Engine struct {
	store          Store
	plans          map[string]models.Plan
	freeDailyLimit int
	now            func() time.Time
	logger         zerolog.Logger
}

// New creates an engine over the given store.
func New(store Store, cfg Config) *Engine {
	plans := cfg.Plans
	if plans == nil {
		plans = models.DefaultPlans()
	}
	// Private copy so callers cannot mutate pricing after construction.
	owned := make(map[string]models.Plan, len(plans))
	for name, plan := range plans {
		owned[name] = plan
	}

	limit := cfg.FreeDailyLimit
	if limit <= 0 {
		limit = 10
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:          store,
		plans:          owned,
		freeDailyLimit: limit,
		now:            now,
		logger:         log.With().Str("component", "subscription_engine").Logger(),
	}
}

// Price looks up a plan by name. The second return is false for an
// unknown plan; callers render a user-facing "invalid plan" message.
func (e *Engine) Price(plan string) (models.Plan, bool) {
	p, ok := e.plans[plan]
	return p, ok
}

// ValidatePayment accepts a paid amount if it covers the expected
// price. Overpayment is tolerated, underpayment is rejected.
func ValidatePayment(paidCents, expectedCents int64) bool {
	return paidCents >= expectedCents
}

// HandlePayment applies a successful purchase of the given plan and
// returns the new expiration date.
//
// The new period is anchored on the current end date while the
// subscription is still active, so a renewing user keeps already-paid
// days. An expired or missing end date anchors on today instead, so
// idle time is never credited.
func (e *Engine) HandlePayment(ctx context.Context, userID int64, plan string) (time.Time, error) {
	p, ok := e.plans[plan]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	unlock := e.store.LockUser(userID)
	defer unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading user %d: %w", userID, err)
	}

	today := models.Today(e.now())

	anchor := today
	start := today
	if user != nil {
		if end, ok := models.ParseDate(user.SubscriptionEnd); ok && !end.Before(today) {
			anchor = end
		}
		if s, ok := models.ParseDate(user.SubscriptionStart); ok {
			start = s
		}
	}

	endDate := anchor.AddDate(0, 0, p.DurationDays)

	if err := e.store.SetSubscription(ctx, userID, plan, start, endDate); err != nil {
		return time.Time{}, fmt.Errorf("persisting subscription for user %d: %w", userID, err)
	}

	e.logger.Info().
		Int64("user_id", userID).
		Str("plan", plan).
		Str("end_date", models.FormatDate(endDate)).
		Msg("Subscription activated")

	return endDate, nil
}

// Purchase is the inbound purchase event from the chat transport. All
// failures are converted to a plain-text message; nothing propagates
// to the caller as an error.
func (e *Engine) Purchase(ctx context.Context, userID int64, plan string) Result {
	endDate, err := e.HandlePayment(ctx, userID, plan)
	if err != nil {
		if errors.Is(err, ErrInvalidPlan) {
			return Result{Message: "Invalid subscription plan selected."}
		}
		e.logger.Error().Err(err).Int64("user_id", userID).Str("plan", plan).Msg("Purchase failed")
		return Result{Message: "Sorry, there was an error. Please try again later."}
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Thank you! Your %s subscription is active until %s.", plan, models.FormatDate(endDate)),
	}
}

// CanMakeRequest answers whether a user may run one analysis right now.
// It never mutates state; the caller must CountRequest after the gated
// action actually happened, so declined or failed actions are free.
func (e *Engine) CanMakeRequest(ctx context.Context, userID int64) Decision {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		e.logger.Error().Err(err).Int64("user_id", userID).Msg("Entitlement check failed")
		return Decision{Reason: "Sorry, there was an error. Please try again later."}
	}

	today := models.FormatDate(models.Today(e.now()))

	// A user we have never seen starts on the free tier with a fresh
	// counter, so the first request of the day is always allowed.
	if user == nil {
		return Decision{Allowed: true}
	}

	if user.Status(today) == models.StatusActive {
		return Decision{Allowed: true}
	}

	// Free tier, including lapsed subscribers: expiry downgrades a user
	// to the free-tier daily cap until they purchase again.
	if user.LastRequestDate == today && user.DailyRequests >= e.freeDailyLimit {
		return Decision{Reason: fmt.Sprintf(
			"Daily limit of %d free requests reached. Try again tomorrow or upgrade with /subscribe.",
			e.freeDailyLimit,
		)}
	}

	return Decision{Allowed: true}
}

// CountRequest records one performed analysis against today's counter.
func (e *Engine) CountRequest(ctx context.Context, userID int64) error {
	today := models.Today(e.now())
	if err := e.store.IncrementDailyRequests(ctx, userID, today); err != nil {
		return fmt.Errorf("counting request for user %d: %w", userID, err)
	}
	return nil
}
