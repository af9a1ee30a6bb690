package database

import (
	"context"
	"database/sql"
	"time"
)

// Status reports connectivity and connection pool pressure. The health
// endpoint embeds it under the "database" key.
type Status struct {
	Healthy      bool  `json:"healthy"`
	PingMs       int64 `json:"pingMs"`
	OpenConns    int   `json:"openConns"`
	InUse        int   `json:"inUse"`
	Idle         int   `json:"idle"`
	WaitCount    int64 `json:"waitCount"`
	WaitMs       int64 `json:"waitMs"`
	MaxOpenConns int   `json:"maxOpenConns"`
}

// Ping checks connectivity and snapshots pool statistics. On failure the
// returned status still carries the elapsed time of the attempt.
func Ping(ctx context.Context, db *sql.DB) (*Status, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &Status{PingMs: time.Since(start).Milliseconds()}, err
	}

	stats := db.Stats()
	return &Status{
		Healthy:      true,
		PingMs:       time.Since(start).Milliseconds(),
		OpenConns:    stats.OpenConnections,
		InUse:        stats.InUse,
		Idle:         stats.Idle,
		WaitCount:    stats.WaitCount,
		WaitMs:       stats.WaitDuration.Milliseconds(),
		MaxOpenConns: stats.MaxOpenConnections,
	}, nil
}
