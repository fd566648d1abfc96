package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ca3003/crypto-analyzer-bot/models"
)

// ErrUserNotFound is returned by mutations that reference a user row
// that was never created. Callers must CreateUserIfAbsent first.
var ErrUserNotFound = errors.New("user not found")

// DB represents a database connection
type DB struct {
	*sql.DB
	locks *keyLocks
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Check connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{DB: db, locks: newKeyLocks()}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	// Dates are stored as YYYY-MM-DD text and normalized on read, so a
	// corrupt value degrades to "no subscription" instead of failing a scan.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT PRIMARY KEY,
			username TEXT,
			subscription_type TEXT NOT NULL DEFAULT 'none',
			subscription_start_date TEXT,
			subscription_end_date TEXT,
			daily_requests INTEGER NOT NULL DEFAULT 0,
			last_request_date TEXT
		)
	`)

	return err
}

// LockUser serializes read-modify-write sequences for a single user.
// Operations on different users proceed concurrently.
func (db *DB) LockUser(userID int64) (unlock func()) {
	return db.locks.lock(userID)
}

// GetUser retrieves a user row. A missing row is (nil, nil), not an error.
func (db *DB) GetUser(ctx context.Context, userID int64) (*models.UserRecord, error) {
	var u models.UserRecord
	var username, subType, startDate, endDate, lastRequest sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT
			user_id, username, subscription_type, subscription_start_date,
			subscription_end_date, daily_requests, last_request_date
		FROM users
		WHERE user_id = $1
	`, userID).Scan(
		&u.UserID, &username, &subType, &startDate,
		&endDate, &u.DailyRequests, &lastRequest,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no user found
		}
		return nil, err
	}

	u.Username = username.String
	u.SubscriptionType = subType.String
	if u.SubscriptionType == "" {
		u.SubscriptionType = models.SubscriptionNone
	}
	u.SubscriptionStart = startDate.String
	u.SubscriptionEnd = endDate.String
	u.LastRequestDate = lastRequest.String

	return &u, nil
}

// CreateUserIfAbsent inserts a new free-tier row. It is idempotent:
// an existing row is left untouched, including its username.
func (db *DB) CreateUserIfAbsent(ctx context.Context, userID int64, username string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, subscription_type, daily_requests)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, username, models.SubscriptionNone)

	return err
}

// SetSubscription overwrites the subscription fields of an existing row.
func (db *DB) SetSubscription(ctx context.Context, userID int64, subscriptionType string, startDate, endDate time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE users
		SET subscription_type = $1,
		    subscription_start_date = $2,
		    subscription_end_date = $3
		WHERE user_id = $4
	`, subscriptionType, models.FormatDate(startDate), models.FormatDate(endDate), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IncrementDailyRequests counts one performed request: same-day calls
// increment the counter, a new day resets it to 1. The whole
// read-modify-write is a single statement, so it cannot lose updates.
func (db *DB) IncrementDailyRequests(ctx context.Context, userID int64, today time.Time) error {
	day := models.FormatDate(today)

	result, err := db.ExecContext(ctx, `
		UPDATE users
		SET daily_requests = CASE
		        WHEN last_request_date = $1 THEN daily_requests + 1
		        ELSE 1
		    END,
		    last_request_date = $1
		WHERE user_id = $2
	`, day, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
