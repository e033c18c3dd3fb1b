package outbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reporter receives processing metrics from the Processor. Implementations
// must be safe for concurrent use and must not block.
type Reporter interface {
	// CycleCompleted is called at the end of every processing cycle with
	// the number of messages claimed and the cycle duration.
	CycleCompleted(claimed int, elapsed time.Duration)

	// MessageCompleted is called when a message is delivered successfully.
	MessageCompleted(eventType string)

	// MessageFailed is called when a delivery attempt fails.
	MessageFailed(eventType string)

	// MessageDeadLettered is called when a message exhausts its retry budget.
	MessageDeadLettered(eventType string)

	// MessagesSwept is called after a retention sweep with the number of
	// completed messages removed.
	MessagesSwept(deleted int64)
}

// NopReporter is a Reporter that discards all metrics. It is the default.
type NopReporter struct{}

func (NopReporter) CycleCompleted(int, time.Duration) {}
func (NopReporter) MessageCompleted(string)           {}
func (NopReporter) MessageFailed(string)              {}
func (NopReporter) MessageDeadLettered(string)        {}
func (NopReporter) MessagesSwept(int64)               {}

// OTelReporter publishes processor metrics through an OpenTelemetry meter.
type OTelReporter struct {
	cycles        metric.Int64Counter
	claimed       metric.Int64Counter
	cycleDuration metric.Float64Histogram
	completed     metric.Int64Counter
	failed        metric.Int64Counter
	deadLettered  metric.Int64Counter
	swept         metric.Int64Counter
}

// NewOTelReporter creates a Reporter backed by OpenTelemetry instruments
// registered on the given meter.
func NewOTelReporter(meter metric.Meter) (*OTelReporter, error) {
	cycles, err := meter.Int64Counter("outbox.cycles",
		metric.WithDescription("Number of completed outbox processing cycles"))
	if err != nil {
		return nil, fmt.Errorf("creating cycles counter: %w", err)
	}

	claimed, err := meter.Int64Counter("outbox.messages.claimed",
		metric.WithDescription("Number of outbox messages claimed for processing"))
	if err != nil {
		return nil, fmt.Errorf("creating claimed counter: %w", err)
	}

	cycleDuration, err := meter.Float64Histogram("outbox.cycle.duration",
		metric.WithDescription("Duration of outbox processing cycles"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating cycle duration histogram: %w", err)
	}

	completed, err := meter.Int64Counter("outbox.messages.completed",
		metric.WithDescription("Number of outbox messages delivered successfully"))
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}

	failed, err := meter.Int64Counter("outbox.messages.failed",
		metric.WithDescription("Number of failed outbox delivery attempts"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	deadLettered, err := meter.Int64Counter("outbox.messages.dead_lettered",
		metric.WithDescription("Number of outbox messages moved to the dead letter state"))
	if err != nil {
		return nil, fmt.Errorf("creating dead lettered counter: %w", err)
	}

	swept, err := meter.Int64Counter("outbox.messages.swept",
		metric.WithDescription("Number of completed outbox messages removed by retention sweeps"))
	if err != nil {
		return nil, fmt.Errorf("creating swept counter: %w", err)
	}

	return &OTelReporter{
		cycles:        cycles,
		claimed:       claimed,
		cycleDuration: cycleDuration,
		completed:     completed,
		failed:        failed,
		deadLettered:  deadLettered,
		swept:         swept,
	}, nil
}

func (r *OTelReporter) CycleCompleted(claimed int, elapsed time.Duration) {
	ctx := context.Background()
	r.cycles.Add(ctx, 1)
	r.claimed.Add(ctx, int64(claimed))
	r.cycleDuration.Record(ctx, elapsed.Seconds())
}

func (r *OTelReporter) MessageCompleted(eventType string) {
	r.completed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *OTelReporter) MessageFailed(eventType string) {
	r.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *OTelReporter) MessageDeadLettered(eventType string) {
	r.deadLettered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *OTelReporter) MessagesSwept(deleted int64) {
	r.swept.Add(context.Background(), deleted)
}
