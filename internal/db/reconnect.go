package db

import (
	"context"
	"strings"
	"time"

	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/pkg/config"
)

// ReconnectWithRetry connects to the database with exponential backoff,
// for resilience when the database comes up after us. maxRetries of 0
// retries forever.
func ReconnectWithRetry(cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, log logging.Logger) (*DB, error) {
	log = logging.OrNoop(log)
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		log.Info("database connection attempt", logging.Int("attempt", attempt))

		db, err := Connect(cfg)
		if err == nil {
			log.Info("database connected",
				logging.String("host", cfg.Host),
				logging.String("database", cfg.Database))
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.Error("database connection failed",
				logging.Int("attempts", attempt), logging.Err(err))
			return nil, err
		}

		log.Warn("database connection failed",
			logging.Err(err), logging.String("retry_in", delay.String()))
		time.Sleep(delay)

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// HealthCheck reports whether the database is reachable and answering
// queries.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}

	return result == 1
}

// WithRetry executes a database operation, retrying transient connection
// failures with a linear backoff. Other errors return immediately.
func WithRetry(operation func() error, maxRetries int, log logging.Logger) error {
	log = logging.OrNoop(log)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			return err
		}

		if attempt < maxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Warn("database operation failed",
				logging.Int("attempt", attempt+1),
				logging.Err(err),
				logging.String("retry_in", wait.String()))
			time.Sleep(wait)
		}
	}

	return lastErr
}

// isConnError matches the error strings transient connection failures
// surface as.
func isConnError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"broken pipe",
		"no connection",
		"connection reset",
		"eof",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
