package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()

	tp, err := InitTracerProvider(ctx, Config{ServiceName: "supplier-discovery", Version: "test", SampleRatio: 1},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(ctx)) })

	_, span := tp.Tracer("test").Start(ctx, "run.execute")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "run.execute", ended[0].Name())
	require.Contains(t, ended[0].Resource().String(), "supplier-discovery")
}

func TestInitTracerProviderZeroRatioDropsSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()

	tp, err := InitTracerProvider(ctx, Config{ServiceName: "supplier-discovery"}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(ctx)) })

	_, span := tp.Tracer("test").Start(ctx, "run.execute")
	span.End()
	require.Empty(t, rec.Ended())
}

func TestInitTracerProviderValidates(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{})
	require.Error(t, err)
	_, err = InitTracerProvider(context.Background(), Config{ServiceName: "x", SampleRatio: 2})
	require.Error(t, err)
}
