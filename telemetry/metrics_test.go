package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReaders(t *testing.T) {
	ctx := context.Background()

	t.Run("prometheus only by default", func(t *testing.T) {
		readers, err := buildReaders(ctx, MetricsConfig{FlushInterval: time.Second})
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, r := range readers {
				_ = r.Shutdown(ctx)
			}
		})

		assert.Len(t, readers, 1)
	})

	t.Run("otlp endpoint adds a periodic reader", func(t *testing.T) {
		readers, err := buildReaders(ctx, MetricsConfig{
			OTLPEndpoint:  "localhost:4317",
			FlushInterval: time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, r := range readers {
				_ = r.Shutdown(ctx)
			}
		})

		assert.Len(t, readers, 2)
	})
}
