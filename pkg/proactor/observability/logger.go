// Package observability provides structured logging, metrics and tracing
// for the proactor engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds stage context to a logger.
// Returns a new logger with event_id, stage and worker fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "evt-123", "enrich", "blocking/2")
//	enriched.Info("doing work") // includes event_id, stage, worker
func EnrichLogger(logger *slog.Logger, eventID, stage, worker string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("stage", stage),
		slog.String("worker", worker),
	)
}

// LogPoolStarted logs a pool start.
func LogPoolStarted(logger *slog.Logger, role, pool string, parallelism int) {
	if logger == nil {
		return
	}
	logger.Debug("pool started",
		slog.String("role", role),
		slog.String("pool", pool),
		slog.Int("parallelism", parallelism),
	)
}

// LogPoolStopped logs a pool reaching STOPPED.
func LogPoolStopped(logger *slog.Logger, role, pool string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("pool stopped",
		slog.String("role", role),
		slog.String("pool", pool),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogShutdownTimeout logs a shutdown phase that overran its deadline.
// Shutdown carries on regardless.
func LogShutdownTimeout(logger *slog.Logger, phase string, pending []string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("shutdown timed out, continuing",
		slog.String("phase", phase),
		slog.Any("pending", pending),
		slog.String("error", err.Error()),
	)
}

// LogStreamRegistered logs an internal work stream registration.
func LogStreamRegistered(logger *slog.Logger, name string) {
	if logger == nil {
		return
	}
	logger.Debug("internal stream registered",
		slog.String("stream", name),
	)
}

// LogStreamCompleted logs an internal work stream completion.
func LogStreamCompleted(logger *slog.Logger, name string) {
	if logger == nil {
		return
	}
	logger.Debug("internal stream completed",
		slog.String("stream", name),
	)
}

// LogStreamAbandoned logs an internal work stream still open when shutdown
// finished.
func LogStreamAbandoned(logger *slog.Logger, name string) {
	if logger == nil {
		return
	}
	logger.Warn("internal stream abandoned at shutdown",
		slog.String("stream", name),
	)
}

// LogAdmissionRejected logs an event refused at the sink.
func LogAdmissionRejected(logger *slog.Logger, pipeline, eventID, policy string, err error) {
	if logger == nil {
		return
	}
	logger.Debug("event rejected",
		slog.String("pipeline", pipeline),
		slog.String("event_id", eventID),
		slog.String("backpressure", policy),
		slog.String("error", err.Error()),
	)
}

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger, stage string) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("stage", stage),
	)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStageError logs a stage failure.
func LogStageError(logger *slog.Logger, stage string, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// LogDispatchRetry logs a rejected submission that will be retried.
func LogDispatchRetry(logger *slog.Logger, stage, pool string, attempt int, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("pool busy, retrying submission",
		slog.String("stage", stage),
		slog.String("pool", pool),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// LogEventComplete logs an event reaching a terminal state.
func LogEventComplete(logger *slog.Logger, pipeline, eventID, status string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event completed",
		slog.String("pipeline", pipeline),
		slog.String("event_id", eventID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogJournalError logs a journal failure (non-fatal).
func LogJournalError(logger *slog.Logger, eventID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("journal write failed",
		slog.String("event_id", eventID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
