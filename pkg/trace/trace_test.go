package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTrace_Stdout(t *testing.T) {
	shutdown, err := InitTrace("quotes-service-test", EndpointStdout)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "refresh")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
