package client

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// LoggingHook - Logs statement execution details
// ============================================================================

// LoggingHook logs statements around execution.
type LoggingHook struct {
	logger        Logger
	logStatements bool // log SQL text before execution
	logParams     bool // include parameters; may contain sensitive values
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logStatements, logParams bool) *LoggingHook {
	return &LoggingHook{
		logger:        logger,
		logStatements: logStatements,
		logParams:     logParams,
	}
}

// Name is the registration name used in every stage.
func (h *LoggingHook) Name() string {
	return "logging"
}

// Register adds the hook to the beforeQuery, afterQuery and onError stages.
func (h *LoggingHook) Register(c *Client) error {
	for stage, fn := range map[Stage]HookFunc{
		StageBeforeQuery: h.before,
		StageAfterQuery:  h.after,
		StageOnError:     h.failed,
	} {
		if err := c.AddHook(stage, h.Name(), fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *LoggingHook) before(_ context.Context, hc *HookContext) error {
	if !h.logStatements {
		return nil
	}
	fields := []Field{
		String("query", hc.Statement.Text),
		String("kind", string(InferCommandKind(hc.Statement.Text))),
		String("trace_id", hc.TraceID),
	}
	if h.logParams {
		fields = append(fields, Any("params", hc.Statement.Params))
	}
	h.logger.Debug("executing statement", fields...)
	return nil
}

func (h *LoggingHook) after(_ context.Context, hc *HookContext) error {
	h.logger.Debug("statement completed",
		String("trace_id", hc.TraceID),
		Int64("rows", hc.Result.RowCount()),
		Duration("duration", hc.ExecutionTime))
	return nil
}

func (h *LoggingHook) failed(_ context.Context, hc *HookContext) error {
	h.logger.Error("statement failed",
		String("trace_id", hc.TraceID),
		String("query", hc.Statement.Text),
		Error("error", hc.Err))
	return nil
}

// ============================================================================
// MetricsHook - Collects execution metrics
// ============================================================================

// MetricsHook collects execution metrics using atomic counters.
type MetricsHook struct {
	TotalStatements atomic.Uint64
	TotalQueries    atomic.Uint64
	TotalMutations  atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalRows       atomic.Uint64
	TotalDurationNs atomic.Uint64
}

// NewMetricsHook creates a new metrics collection hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

// Name is the registration name used in every stage.
func (h *MetricsHook) Name() string {
	return "metrics"
}

// Register adds the hook to the afterQuery and onError stages.
func (h *MetricsHook) Register(c *Client) error {
	if err := c.AddHook(StageAfterQuery, h.Name(), h.after); err != nil {
		return err
	}
	return c.AddHook(StageOnError, h.Name(), h.failed)
}

func (h *MetricsHook) after(_ context.Context, hc *HookContext) error {
	h.TotalStatements.Add(1)
	h.TotalDurationNs.Add(uint64(hc.ExecutionTime.Nanoseconds()))
	if n := hc.Result.RowCount(); n > 0 {
		h.TotalRows.Add(uint64(n))
	}

	switch InferCommandKind(hc.Statement.Text) {
	case KindQuery:
		h.TotalQueries.Add(1)
	case KindMutation:
		h.TotalMutations.Add(1)
	}
	return nil
}

func (h *MetricsHook) failed(_ context.Context, _ *HookContext) error {
	h.TotalStatements.Add(1)
	h.TotalErrors.Add(1)
	return nil
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	total := h.TotalStatements.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if total > 0 {
		avgDuration = int64(totalDur / total)
	}

	return map[string]interface{}{
		"total_statements":  total,
		"total_queries":     h.TotalQueries.Load(),
		"total_mutations":   h.TotalMutations.Load(),
		"total_errors":      h.TotalErrors.Load(),
		"total_rows":        h.TotalRows.Load(),
		"total_duration_ns": totalDur,
		"avg_duration_ns":   avgDuration,
		"avg_duration_ms":   float64(avgDuration) / 1_000_000,
	}
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	h.TotalStatements.Store(0)
	h.TotalQueries.Store(0)
	h.TotalMutations.Store(0)
	h.TotalErrors.Store(0)
	h.TotalRows.Store(0)
	h.TotalDurationNs.Store(0)
}
