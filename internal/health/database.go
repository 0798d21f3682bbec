package health

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DatabaseCheckConfig holds configuration for database checks.
type DatabaseCheckConfig struct {
	// LatencyThreshold is the maximum acceptable ping latency.
	LatencyThreshold time.Duration

	// PoolWarnPct is the connection pool usage that reports degraded.
	PoolWarnPct int
}

// DefaultDatabaseCheckConfig returns the default database check configuration.
func DefaultDatabaseCheckConfig() DatabaseCheckConfig {
	return DatabaseCheckConfig{
		LatencyThreshold: 500 * time.Millisecond,
		PoolWarnPct:      80,
	}
}

// SQLPinger is the part of *sql.DB a database check uses.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// DatabaseResult is the outcome of a database check.
type DatabaseResult struct {
	Status   Status
	Message  string
	Latency  time.Duration
	Metadata map[string]interface{}
}

// CheckDatabase pings the store database and inspects its connection pool.
func CheckDatabase(ctx context.Context, db SQLPinger, config DatabaseCheckConfig) DatabaseResult {
	result := DatabaseResult{
		Status:   StatusHealthy,
		Metadata: make(map[string]interface{}),
	}
	if db == nil {
		result.Status = StatusUnhealthy
		result.Message = "no database connection configured"
		return result
	}

	var messages []string

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("ping failed: %v", err)
		return result
	}
	result.Latency = time.Since(start)
	result.Metadata["ping_latency_ms"] = result.Latency.Milliseconds()

	if config.LatencyThreshold > 0 && result.Latency > config.LatencyThreshold {
		result.Status = StatusDegraded
		messages = append(messages, fmt.Sprintf("ping latency %v exceeds threshold %v", result.Latency, config.LatencyThreshold))
	}

	stats := db.Stats()
	result.Metadata["open_connections"] = stats.OpenConnections
	result.Metadata["in_use_connections"] = stats.InUse
	result.Metadata["max_open_connections"] = stats.MaxOpenConnections

	if maxConns := stats.MaxOpenConnections; maxConns > 0 {
		usagePct := (stats.InUse * 100) / maxConns
		result.Metadata["pool_usage_pct"] = usagePct
		switch {
		case stats.InUse >= maxConns:
			result.Status = StatusUnhealthy
			messages = append(messages, fmt.Sprintf("connection pool exhausted: %d/%d", stats.InUse, maxConns))
		case config.PoolWarnPct > 0 && usagePct >= config.PoolWarnPct:
			if result.Status == StatusHealthy {
				result.Status = StatusDegraded
			}
			messages = append(messages, fmt.Sprintf("connection pool at %d%% usage", usagePct))
		}
	}

	if len(messages) > 0 {
		result.Message = strings.Join(messages, "; ")
	} else {
		result.Message = "all checks passed"
	}
	return result
}
