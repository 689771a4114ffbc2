package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthFollowsStopLevel(t *testing.T) {
	ctrl := NewRunController(nil)
	h := NewHealthServer(ctrl, nil)
	defer h.Stop()

	ctx := context.Background()
	for _, svc := range []string{"", HealthService} {
		st, err := h.Status(ctx, svc)
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
	}

	ctrl.SoftStop("draining")
	st, err := h.Status(ctx, HealthService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestHealthUnknownService(t *testing.T) {
	h := NewHealthServer(NewRunController(nil), nil)
	defer h.Stop()
	_, err := h.Status(context.Background(), "nope")
	assert.Error(t, err)
}
