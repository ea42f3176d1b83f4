package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_BuildsTracer(t *testing.T) {
	p, err := NewProvider(context.Background(), "test-service", "localhost:4318", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	tracer := p.Tracer()
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "unit-test-span")
	defer span.End()
	assert.True(t, span.IsRecording())
}
