package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca3003/crypto-analyzer-bot/models"
)

var errMissingRow = errors.New("user not found")

// memStore is an in-memory Store with the same contract as the
// Postgres-backed one.
type memStore struct {
	mu    sync.Mutex
	users map[int64]*models.UserRecord

	getErr error
	setErr error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]*models.UserRecord)}
}

func (m *memStore) GetUser(_ context.Context, userID int64) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) CreateUserIfAbsent(_ context.Context, userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; ok {
		return nil
	}
	m.users[userID] = &models.UserRecord{
		UserID:           userID,
		Username:         username,
		SubscriptionType: models.SubscriptionNone,
	}
	return nil
}

func (m *memStore) SetSubscription(_ context.Context, userID int64, subscriptionType string, startDate, endDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	u, ok := m.users[userID]
	if !ok {
		return errMissingRow
	}
	u.SubscriptionType = subscriptionType
	u.SubscriptionStart = models.FormatDate(startDate)
	u.SubscriptionEnd = models.FormatDate(endDate)
	return nil
}

func (m *memStore) IncrementDailyRequests(_ context.Context, userID int64, today time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errMissingRow
	}
	day := models.FormatDate(today)
	if u.LastRequestDate == day {
		u.DailyRequests++
	} else {
		u.DailyRequests = 1
	}
	u.LastRequestDate = day
	return nil
}

func (m *memStore) LockUser(int64) (unlock func()) {
	return func() {}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func onDate(s string) *fakeClock {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &fakeClock{t: t}
}

func newEngine(store Store, clock *fakeClock) *Engine {
	return New(store, Config{Now: clock.Now})
}

func TestHandlePaymentFirstPurchase(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.CreateUserIfAbsent(context.Background(), 1, "alice"))

	engine := newEngine(store, onDate("2024-01-01"))

	end, err := engine.HandlePayment(context.Background(), 1, models.SubscriptionBasic)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", models.FormatDate(end))

	u, err := store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionBasic, u.SubscriptionType)
	assert.Equal(t, "2024-01-01", u.SubscriptionStart)
	assert.Equal(t, "2024-01-31", u.SubscriptionEnd)
}

func TestHandlePaymentRenewalExtendsActivePeriod(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:            1,
		SubscriptionType:  models.SubscriptionBasic,
		SubscriptionStart: "2024-01-01",
		SubscriptionEnd:   "2024-01-31",
	}

	engine := newEngine(store, onDate("2024-01-15"))

	end, err := engine.HandlePayment(context.Background(), 1, models.SubscriptionPremium)
	require.NoError(t, err)

	// Anchored on the current end date, not on today.
	assert.Equal(t, "2024-04-30", models.FormatDate(end))

	u, _ := store.GetUser(context.Background(), 1)
	assert.Equal(t, models.SubscriptionPremium, u.SubscriptionType)
	assert.Equal(t, "2024-01-01", u.SubscriptionStart, "first purchase date is preserved")
}

func TestHandlePaymentExpiredAnchorsOnToday(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:           1,
		SubscriptionType: models.SubscriptionPremium,
		SubscriptionEnd:  "2024-04-30",
	}

	engine := newEngine(store, onDate("2025-01-01"))

	end, err := engine.HandlePayment(context.Background(), 1, models.SubscriptionBasic)
	require.NoError(t, err)

	// No credit for the lapsed period.
	assert.Equal(t, "2025-01-31", models.FormatDate(end))
}

func TestHandlePaymentEndingTodayStillExtends(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:           1,
		SubscriptionType: models.SubscriptionBasic,
		SubscriptionEnd:  "2024-03-10",
	}

	engine := newEngine(store, onDate("2024-03-10"))

	end, err := engine.HandlePayment(context.Background(), 1, models.SubscriptionBasic)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-09", models.FormatDate(end))
}

func TestHandlePaymentInvalidPlan(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{UserID: 1, SubscriptionType: models.SubscriptionNone}

	engine := newEngine(store, onDate("2024-01-01"))

	_, err := engine.HandlePayment(context.Background(), 1, "platinum")
	require.ErrorIs(t, err, ErrInvalidPlan)

	u, _ := store.GetUser(context.Background(), 1)
	assert.Equal(t, models.SubscriptionNone, u.SubscriptionType, "no state change on invalid plan")
}

func TestHandlePaymentUnparsableEndDateTreatedAsExpired(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:           1,
		SubscriptionType: models.SubscriptionBasic,
		SubscriptionEnd:  "not-a-date",
	}

	engine := newEngine(store, onDate("2024-06-01"))

	end, err := engine.HandlePayment(context.Background(), 1, models.SubscriptionBasic)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", models.FormatDate(end))
}

func TestPurchaseScenario(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.CreateUserIfAbsent(context.Background(), 7, "u1"))

	clock := onDate("2024-01-01")
	engine := newEngine(store, clock)

	res := engine.Purchase(context.Background(), 7, models.SubscriptionBasic)
	require.True(t, res.Success, res.Message)
	u, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, "2024-01-31", u.SubscriptionEnd)
	assert.Equal(t, models.SubscriptionBasic, u.SubscriptionType)

	clock.t = clock.t.AddDate(0, 0, 14) // 2024-01-15, still active
	res = engine.Purchase(context.Background(), 7, models.SubscriptionPremium)
	require.True(t, res.Success, res.Message)
	u, _ = store.GetUser(context.Background(), 7)
	assert.Equal(t, "2024-04-30", u.SubscriptionEnd)

	clock.t = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) // long expired
	res = engine.Purchase(context.Background(), 7, models.SubscriptionBasic)
	require.True(t, res.Success, res.Message)
	u, _ = store.GetUser(context.Background(), 7)
	assert.Equal(t, "2025-01-31", u.SubscriptionEnd)
}

func TestPurchaseMessages(t *testing.T) {
	t.Run("invalid plan", func(t *testing.T) {
		engine := newEngine(newMemStore(), onDate("2024-01-01"))
		res := engine.Purchase(context.Background(), 1, "gold")
		assert.False(t, res.Success)
		assert.Equal(t, "Invalid subscription plan selected.", res.Message)
	})

	t.Run("storage failure", func(t *testing.T) {
		store := newMemStore()
		store.getErr = errors.New("connection refused")
		engine := newEngine(store, onDate("2024-01-01"))

		res := engine.Purchase(context.Background(), 1, models.SubscriptionBasic)
		assert.False(t, res.Success)
		assert.Equal(t, "Sorry, there was an error. Please try again later.", res.Message)
	})

	t.Run("success mentions plan and end date", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.CreateUserIfAbsent(context.Background(), 1, "alice"))
		engine := newEngine(store, onDate("2024-01-01"))

		res := engine.Purchase(context.Background(), 1, models.SubscriptionVIP)
		require.True(t, res.Success)
		assert.Contains(t, res.Message, "vip")
		assert.Contains(t, res.Message, "2024-12-31")
	})
}

func TestCanMakeRequest(t *testing.T) {
	today := "2024-05-20"
	yesterday := "2024-05-19"

	tests := []struct {
		name    string
		user    *models.UserRecord
		allowed bool
	}{
		{
			name:    "unknown user starts on free tier",
			user:    nil,
			allowed: true,
		},
		{
			name: "active subscription ignores counter",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionVIP,
				SubscriptionEnd:  "2024-06-01",
				DailyRequests:    500,
				LastRequestDate:  today,
			},
			allowed: true,
		},
		{
			name: "subscription ending today is still active",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionBasic,
				SubscriptionEnd:  today,
				DailyRequests:    500,
				LastRequestDate:  today,
			},
			allowed: true,
		},
		{
			name: "free tier under the cap",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionNone,
				DailyRequests:    9,
				LastRequestDate:  today,
			},
			allowed: true,
		},
		{
			name: "free tier at the cap",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionNone,
				DailyRequests:    10,
				LastRequestDate:  today,
			},
			allowed: false,
		},
		{
			name: "expired subscriber falls back to the free cap",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionPremium,
				SubscriptionEnd:  "2024-01-01",
				DailyRequests:    10,
				LastRequestDate:  today,
			},
			allowed: false,
		},
		{
			name: "stale counter from yesterday does not gate",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionNone,
				DailyRequests:    10,
				LastRequestDate:  yesterday,
			},
			allowed: true,
		},
		{
			name: "unparsable end date degrades to free tier",
			user: &models.UserRecord{
				SubscriptionType: models.SubscriptionVIP,
				SubscriptionEnd:  "31/12/2024",
				DailyRequests:    10,
				LastRequestDate:  today,
			},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.user != nil {
				tt.user.UserID = 1
				store.users[1] = tt.user
			}
			engine := newEngine(store, onDate(today))

			d := engine.CanMakeRequest(context.Background(), 1)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Contains(t, d.Reason, "Daily limit")
			}
		})
	}
}

func TestCanMakeRequestStorageFailure(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	engine := newEngine(store, onDate("2024-05-20"))

	d := engine.CanMakeRequest(context.Background(), 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Sorry, there was an error. Please try again later.", d.Reason)
}

func TestCountRequestRollover(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:          1,
		DailyRequests:   7,
		LastRequestDate: "2024-05-19",
	}

	clock := onDate("2024-05-20")
	engine := newEngine(store, clock)

	// New day resets to 1 regardless of the prior value.
	require.NoError(t, engine.CountRequest(context.Background(), 1))
	u, _ := store.GetUser(context.Background(), 1)
	assert.Equal(t, 1, u.DailyRequests)
	assert.Equal(t, "2024-05-20", u.LastRequestDate)

	// Same day increments by exactly 1.
	require.NoError(t, engine.CountRequest(context.Background(), 1))
	u, _ = store.GetUser(context.Background(), 1)
	assert.Equal(t, 2, u.DailyRequests)
}

func TestCustomFreeDailyLimit(t *testing.T) {
	store := newMemStore()
	store.users[1] = &models.UserRecord{
		UserID:          1,
		DailyRequests:   3,
		LastRequestDate: "2024-05-20",
	}

	engine := New(store, Config{
		FreeDailyLimit: 3,
		Now:            onDate("2024-05-20").Now,
	})

	d := engine.CanMakeRequest(context.Background(), 1)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "3")
}

func TestValidatePayment(t *testing.T) {
	assert.True(t, ValidatePayment(10_00, 10_00))
	assert.False(t, ValidatePayment(9_99, 10_00))
	assert.True(t, ValidatePayment(10_01, 10_00))
}

func TestPriceLookup(t *testing.T) {
	engine := newEngine(newMemStore(), onDate("2024-01-01"))

	plan, ok := engine.Price(models.SubscriptionVIP)
	require.True(t, ok)
	assert.Equal(t, 365, plan.DurationDays)
	assert.Equal(t, int64(80_00), plan.PriceCents)

	_, ok = engine.Price("platinum")
	assert.False(t, ok)
}

func TestNewCopiesPlanTable(t *testing.T) {
	plans := map[string]models.Plan{
		"trial": {DurationDays: 7, PriceCents: 1_00},
	}
	engine := New(newMemStore(), Config{Plans: plans, Now: onDate("2024-01-01").Now})

	plans["trial"] = models.Plan{DurationDays: 999, PriceCents: 0}
	delete(plans, "trial")

	plan, ok := engine.Price("trial")
	require.True(t, ok)
	assert.Equal(t, 7, plan.DurationDays)
}
