package outbox

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewOTelReporter(t *testing.T) {
	reporter, err := NewOTelReporter(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// exercise every instrument; the noop meter just has to not panic
	reporter.CycleCompleted(3, 120*time.Millisecond)
	reporter.MessageCompleted("order.created")
	reporter.MessageFailed("order.created")
	reporter.MessageDeadLettered("order.created")
	reporter.MessagesSwept(5)
}
