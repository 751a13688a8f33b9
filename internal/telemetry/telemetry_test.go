package telemetry

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/automl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "automl"}, "server")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	cfg := config.TelemetryConfig{OTLPEndpoint: "http://127.0.0.1:4318", ServiceName: "automl"}

	shutdown, err := Setup(context.Background(), cfg, "worker")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was recorded, so shutdown has nothing to flush even with a dead collector.
	_ = shutdown(ctx)
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"http://otel:4318", "otel:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
		{"otel:4318", "otel:4318", false},
	}
	for _, tt := range tests {
		host, insecure := splitEndpoint(tt.raw)
		assert.Equal(t, tt.host, host)
		assert.Equal(t, tt.insecure, insecure)
	}
}
