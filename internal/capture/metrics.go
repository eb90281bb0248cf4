package capture

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fieldsync/anchor/internal/capture"

// Result values reported for every capture attempt.
const (
	ResultAcquired    = "acquired"
	ResultReused      = "reused"
	ResultOverride    = "override"
	ResultUnresolved  = "unresolved"
	ResultInvalid     = "invalid"
	ResultPersistFail = "persist_failed"
)

// Outcome describes one finished capture attempt.
type Outcome struct {
	OwnerID  string
	Label    string
	AnchorID string // empty unless an anchor was persisted
	Result   string
	Located  bool
	Duration time.Duration
}

// Recorder receives every Outcome, e.g. to ship it to a time-series store.
type Recorder interface {
	RecordCapture(ctx context.Context, o Outcome) error
}

type instruments struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments() (instruments, error) {
	m := otel.Meter(instrumentationName)

	attempts, err := m.Int64Counter(
		"capture.attempts",
		metric.WithDescription("Capture attempts by outcome"),
	)
	if err != nil {
		return instruments{}, err
	}
	duration, err := m.Float64Histogram(
		"capture.duration",
		metric.WithDescription("Time from submit to a final state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return instruments{}, err
	}
	return instruments{attempts: attempts, duration: duration}, nil
}

func (i instruments) record(ctx context.Context, o Outcome) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("outcome", o.Result))
	i.attempts.Add(ctx, 1, attrs)
	if o.Result != ResultInvalid {
		i.duration.Record(ctx, o.Duration.Seconds(), attrs)
	}
}
