package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupWithoutEndpointKeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestNewProviderRequiresEndpoint(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewProviderBuildsSDKProvider(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Endpoint: "127.0.0.1:4318", Insecure: true})
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(context.Background(), "order.create")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = provider.Shutdown(ctx)
}

func TestSamplerRatio(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
	var _ sdktrace.Sampler = sampler(1)
}
