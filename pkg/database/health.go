package database

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// HealthStatus reports database connectivity and journal configuration.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	JournalMode  string `json:"journal_mode"`
	OpenConns    int    `json:"open_connections"`
	InUse        int    `json:"in_use"`
}

// Health pings the database and verifies WAL journaling is in effect.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	status := "healthy"
	if !strings.EqualFold(mode, "wal") {
		status = "degraded"
	}

	stats := db.Stats()
	return &HealthStatus{
		Status:       status,
		ResponseTime: time.Since(start).Milliseconds(),
		JournalMode:  mode,
		OpenConns:    stats.OpenConnections,
		InUse:        stats.InUse,
	}, nil
}
