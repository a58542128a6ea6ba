package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skpeterson2000/towerwitch/pkg/config"
)

// TestConnect tests database connection with various configurations.
func TestConnect(t *testing.T) {
	t.Run("Valid connection string formatting", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Username:     "testuser",
			Password:     "testpass",
			Database:     "testdb",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		}

		// Note: This will fail to connect if no database is running,
		// but we're testing the connection string construction
		db, err := Connect(cfg)
		if err != nil {
			// Expected if no database is running
			// Just verify error message format
			if err.Error() == "" {
				t.Error("Expected non-empty error message")
			}
			return
		}

		// If database happens to be running, verify connection
		if db == nil {
			t.Fatal("Expected db to be non-nil")
		}
		if db.DB == nil {
			t.Error("Expected DB field to be initialized")
		}
		if db.config.Host != cfg.Host {
			t.Errorf("Expected host %s, got %s", cfg.Host, db.config.Host)
		}

		db.Close()
	})
}

// TestHealthCheckNilDB verifies a nil handle reports unhealthy.
func TestHealthCheckNilDB(t *testing.T) {
	if HealthCheck(context.Background(), nil) {
		t.Error("Expected nil database to be unhealthy")
	}
}

// TestIsConnError tests transient error classification.
func TestIsConnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"constraint violation", errors.New("pq: duplicate key value violates unique constraint"), false},
		{"syntax error", errors.New("pq: syntax error at or near SELECT"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnError(tt.err); got != tt.want {
				t.Errorf("isConnError(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestWithRetry tests the retry wrapper's stop conditions.
func TestWithRetry(t *testing.T) {
	t.Run("Success on first attempt", func(t *testing.T) {
		calls := 0
		err := WithRetry(func() error {
			calls++
			return nil
		}, 3, nil)
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})

	t.Run("Non-connection error returns immediately", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("pq: relation does not exist")
		err := WithRetry(func() error {
			calls++
			return wantErr
		}, 3, nil)
		if !errors.Is(err, wantErr) {
			t.Errorf("Expected the operation error, got: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call without retries, got %d", calls)
		}
	})

	t.Run("Connection error retries then succeeds", func(t *testing.T) {
		calls := 0
		start := time.Now()
		err := WithRetry(func() error {
			calls++
			if calls == 1 {
				return errors.New("dial tcp: connection refused")
			}
			return nil
		}, 2, nil)
		if err != nil {
			t.Errorf("Expected success after retry, got: %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected 2 calls, got %d", calls)
		}
		// One retry waits one second
		if elapsed := time.Since(start); elapsed < time.Second {
			t.Errorf("Expected at least 1s backoff, got %v", elapsed)
		}
	})
}
