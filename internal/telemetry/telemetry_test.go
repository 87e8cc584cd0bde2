package telemetry_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ashita-ai/skillcheck/internal/telemetry"
)

func TestInitWithoutEndpointInstallsPropagatorOnly(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{ServiceName: "skillcheck", Version: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")

	// Without a collector the global tracer is a no-op, so no traceparent
	// is injected for a context that carries no span.
	h := http.Header{}
	otel.GetTextMapPropagator().Inject(context.Background(), propagation.HeaderCarrier(h))
	assert.Empty(t, h.Get("traceparent"))

	assert.NotNil(t, telemetry.Tracer("skillcheck/test"))
	assert.NotNil(t, telemetry.Meter("skillcheck/test"))
}
