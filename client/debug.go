package client

import (
	"encoding/json"
	"fmt"
)

// EnableDebugMode makes logged errors carry details and stack traces.
func (c *Client) EnableDebugMode() {
	c.debugMode.Store(true)
	c.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (c *Client) DisableDebugMode() {
	c.debugMode.Store(false)
	c.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// GetDebugInfo returns a snapshot of client state for debugging.
func (c *Client) GetDebugInfo() map[string]interface{} {
	info := map[string]interface{}{
		"version":   Version,
		"state":     c.State().String(),
		"debugMode": c.IsDebugMode(),
		"driver":    c.opts.DriverName,
	}

	if stats, ok := c.PoolStats(); ok {
		info["pool"] = map[string]interface{}{
			"maxOpen":      stats.MaxOpen,
			"inUse":        stats.InUse,
			"idle":         stats.Idle,
			"waiting":      stats.Waiting,
			"waitCount":    stats.WaitCount,
			"waitDuration": stats.WaitDuration.String(),
			"timeouts":     stats.Timeouts,
			"rejected":     stats.Rejected,
		}
	}

	cs := c.CacheStats()
	info["cache"] = map[string]interface{}{
		"enabled":   c.opts.CacheEnabled,
		"ttl":       c.opts.CacheTTL.String(),
		"size":      cs.Size,
		"hits":      cs.Hits,
		"misses":    cs.Misses,
		"expired":   cs.Expired,
		"evictions": cs.Evictions,
		"hitRate":   cs.HitRate(),
	}

	active := 0
	c.activeTx.Range(func(_, _ interface{}) bool {
		active++
		return true
	})
	info["activeTransactions"] = active
	info["queryLogEntries"] = c.queryLog.Len()

	info["options"] = map[string]interface{}{
		"poolMinIdle":         c.opts.PoolMinIdle,
		"poolMaxOpen":         c.opts.PoolMaxOpen,
		"queuePolicy":         c.opts.QueuePolicy.String(),
		"queueLimit":          c.opts.QueueLimit,
		"retryAttempts":       c.opts.RetryAttempts,
		"retryDelay":          c.opts.RetryDelay.String(),
		"loggingEnabled":      c.opts.LoggingEnabled,
		"timestampsEnabled":   c.opts.TimestampsEnabled,
		"healthCheckInterval": c.opts.HealthCheckInterval.String(),
	}

	return info
}

// DumpDebugInfoJSON returns debug info as formatted JSON string.
func (c *Client) DumpDebugInfoJSON() string {
	bytes, err := json.MarshalIndent(c.GetDebugInfo(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
