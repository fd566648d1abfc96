package models

// Subscription plan names. SubscriptionNone marks the default free tier
// and is never a key of the price table.
const (
	SubscriptionNone    = "none"
	SubscriptionBasic   = "basic"
	SubscriptionPremium = "premium"
	SubscriptionVIP     = "vip"
)

// SubscriptionStatus is derived from the stored end date at read time.
// It is never persisted; expiry has a single source of truth.
type SubscriptionStatus string

const (
	StatusNone    SubscriptionStatus = "none"
	StatusActive  SubscriptionStatus = "active"
	StatusExpired SubscriptionStatus = "expired"
)

// Plan describes a purchasable subscription tier. Prices are kept in
// integer cents to avoid float drift in payment validation.
type Plan struct {
	DurationDays int
	PriceCents   int64
}

// DefaultPlans is the shipped price table. The engine receives a plan
// table at construction, so tests can substitute alternate pricing.
func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		SubscriptionBasic:   {DurationDays: 30, PriceCents: 10_00},
		SubscriptionPremium: {DurationDays: 90, PriceCents: 25_00},
		SubscriptionVIP:     {DurationDays: 365, PriceCents: 80_00},
	}
}

// UserRecord is one row of the user store. Dates are ISO YYYY-MM-DD
// strings; an empty string means the field is absent.
type UserRecord struct {
	UserID            int64
	Username          string
	SubscriptionType  string
	SubscriptionStart string
	SubscriptionEnd   string
	DailyRequests     int
	LastRequestDate   string
}

// Status computes the subscription state for the given calendar day.
// A missing or unparsable end date counts as no subscription.
func (u *UserRecord) Status(today string) SubscriptionStatus {
	end, ok := ParseDate(u.SubscriptionEnd)
	if !ok || u.SubscriptionType == "" || u.SubscriptionType == SubscriptionNone {
		return StatusNone
	}
	t, ok := ParseDate(today)
	if !ok {
		return StatusNone
	}
	if end.Before(t) {
		return StatusExpired
	}
	return StatusActive
}
