package observability

import (
	"context"

	"github.com/brycehammond/allowance-sub012/internal/infrastructure/observability"
)

// Setup initializes logging, metrics and tracing for a binary and returns
// the tracer shutdown hook.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
