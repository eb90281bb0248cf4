package locate

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fieldsync/anchor/internal/locate"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
