package report

import (
	"context"
	"errors"
	"log/slog"
)

// Log is a Reporter that writes failures to a structured logger. It is
// the default backend when no collector is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log reporter.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Report logs the failure.
func (l *Log) Report(_ context.Context, f Failure) error {
	l.logger.Warn("adapter failure",
		"id", f.ID,
		"domain", f.Domain,
		"area", f.Area,
		"message", f.Message)
	return nil
}

// Close implements Reporter.
func (l *Log) Close() error { return nil }

// Fanout delivers every failure to all wrapped reporters. One backend
// failing does not keep the failure from the others.
type Fanout struct {
	reporters []Reporter
	logger    *slog.Logger
}

// NewFanout creates a Fanout over the given reporters.
func NewFanout(logger *slog.Logger, reporters ...Reporter) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{reporters: reporters, logger: logger}
}

// Report delivers f to every backend, returning the joined errors.
func (fo *Fanout) Report(ctx context.Context, f Failure) error {
	var errs []error
	for _, r := range fo.reporters {
		if err := r.Report(ctx, f); err != nil {
			fo.logger.Warn("report: backend failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend.
func (fo *Fanout) Close() error {
	var errs []error
	for _, r := range fo.reporters {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
