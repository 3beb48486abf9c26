package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitOTel(context.Background(), OTelConfig{}, NewLogger(InfoLevel, &buf))

	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.Contains(t, buf.String(), "OpenTelemetry is disabled")
}

func TestInitOTel_RequiresServiceName(t *testing.T) {
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true, Endpoint: "localhost:4317"}, NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name is required")
}

// OTLP exporters connect lazily, so initialization succeeds without a collector
func TestInitOTel_WithoutCollector(t *testing.T) {
	logger := NopLogger()
	providers, err := InitOTel(context.Background(), OTelConfig{
		Enabled:        true,
		Endpoint:       "127.0.0.1:1",
		ServiceName:    "backoffice-test",
		ServiceVersion: "test",
		Insecure:       true,
		SampleRatio:    0.5,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a cancelled flush may fail; it must not panic
	_ = ShutdownOTel(ctx, providers, logger)
}

func TestShutdownOTel_Nil(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NopLogger()))
	assert.NoError(t, ShutdownOTel(context.Background(), &OTelProviders{}, NopLogger()))
}

func TestShutdownOTel_TracerOnly(t *testing.T) {
	providers := &OTelProviders{TracerProvider: sdktrace.NewTracerProvider()}
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NopLogger()))
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	t.Run("no span keeps logger", func(t *testing.T) {
		logger := NopLogger()
		assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
	})

	t.Run("recording span adds ids", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		var buf bytes.Buffer
		UpdateLoggerWithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("traced")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})

	t.Run("unsampled span keeps logger", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		defer tp.Shutdown(context.Background())
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		logger := NopLogger()
		assert.Same(t, logger, UpdateLoggerWithTraceContext(ctx, logger))
	})
}
