package deriver

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/markers/internal/deriver"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
