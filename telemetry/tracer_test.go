package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("delfos-test", nil, func(o *Options) { o.Writer = &buf })
	require.NoError(t, err)
	t.Cleanup(func() { Disable() })

	_, span := otel.Tracer("delfos/test").Start(context.Background(), "engine.triage")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "engine.triage")
	assert.Contains(t, buf.String(), "delfos-test")
}

func TestDisable(t *testing.T) {
	shutdown := Disable()
	_, span := otel.Tracer("delfos/test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
