package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracerFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Tracer(nil))
	assert.NotNil(t, Tracer(noop.NewTracerProvider()))
}

func TestConfigSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := Config{SampleRatio: tt.ratio}.sampler().Description()
		assert.Contains(t, desc, tt.want)
	}
}

func TestConfigResourceCarriesInstance(t *testing.T) {
	res, err := Config{ServiceName: "turnsync", InstanceID: "pod-a"}.resource()
	require.NoError(t, err)

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "turnsync", got["service.name"])
	assert.Equal(t, "pod-a", got["service.instance.id"])
	assert.False(t, Config{}.Enabled())
}

func TestSetupPropagationHandlesTraceparent(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)

	SetupPropagation()
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)

	shutdown, err := Setup(context.Background(), Config{ServiceName: "turnsync"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanRecordsError(t *testing.T) {
	orig := otel.GetTracerProvider()
	defer otel.SetTracerProvider(orig)

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, span := StartSpan(context.Background(), "turn.finalize", AttrReason.String("final"))
	EndSpan(span, errors.New("scorer unavailable"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "turn.finalize", spans[0].Name())
	assert.Len(t, spans[0].Events(), 1)
}
