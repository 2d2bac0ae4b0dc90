package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wraithsec/wraith-cli/api/schemas"
)

func TestRouterRequiresBothClients(t *testing.T) {
	logger := setupTestLogger(t)
	fast := &recordingClient{response: &schemas.GenerationResponse{Content: "fast"}}

	_, err := NewLLMRouter(logger, fast, nil, 0)
	assert.Error(t, err)
	_, err = NewLLMRouter(logger, nil, fast, 0)
	assert.Error(t, err)
}

func TestRouterRoutesByTier(t *testing.T) {
	logger := setupTestLogger(t)
	fast := &recordingClient{response: &schemas.GenerationResponse{Content: "fast answer"}}
	powerful := &recordingClient{response: &schemas.GenerationResponse{Content: "powerful answer"}}

	router, err := NewLLMRouter(logger, fast, powerful, 0)
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast answer", resp.Content)
	assert.Equal(t, 1, fast.callCount())
	assert.Equal(t, 0, powerful.callCount())

	resp, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful answer", resp.Content)

	// An unspecified tier defaults to powerful.
	_, err = router.Generate(ctx, schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, powerful.callCount())
}

func TestRouterUnknownTier(t *testing.T) {
	logger := setupTestLogger(t)
	fast := &recordingClient{response: &schemas.GenerationResponse{}}
	powerful := &recordingClient{response: &schemas.GenerationResponse{}}

	router, err := NewLLMRouter(logger, fast, powerful, 0)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: "experimental"})
	assert.Error(t, err)
}

func TestRouterRateLimiterHonorsContext(t *testing.T) {
	logger := setupTestLogger(t)
	fast := &recordingClient{response: &schemas.GenerationResponse{}}
	powerful := &recordingClient{response: &schemas.GenerationResponse{}}

	// One request a minute with a burst of one: the second call must wait,
	// and a cancelled context aborts that wait.
	router, err := NewLLMRouter(logger, fast, powerful, 1)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	assert.Error(t, err)
	assert.Equal(t, 1, fast.callCount())
}
