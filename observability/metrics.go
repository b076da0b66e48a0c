// Package observability holds the OpenTelemetry instruments txman
// records transaction outcomes with.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels for the transactions counter.
const (
	OutcomeCommit       = "commit"
	OutcomeRollback     = "rollback"
	OutcomeCommitFailed = "commit_failed"
)

// Metrics holds the txman instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	transactions metric.Int64Counter
	retries      metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transactions, err := meter.Int64Counter("txman.transactions",
		metric.WithDescription("Completed transactions by connection and outcome"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("txman.retries",
		metric.WithDescription("Retry attempts after a rolled-back unit of work"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("txman.transaction.duration",
		metric.WithDescription("Transaction duration from open to commit or rollback"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		transactions: transactions,
		retries:      retries,
		duration:     duration,
	}, nil
}

// RecordTransaction records one completed transaction.
func (m *Metrics) RecordTransaction(ctx context.Context, connection, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("connection", connectionLabel(connection)),
		attribute.String("outcome", outcome),
	)
	m.transactions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRetry records one retry attempt.
func (m *Metrics) RecordRetry(ctx context.Context, connection string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("connection", connectionLabel(connection)),
	))
}

func connectionLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
