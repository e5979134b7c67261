package parley

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIHealth(t *testing.T) {
	t.Parallel()

	p := newTestParley(t, newMockDiscordSession(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	p.api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()

	p := newTestParley(t, newMockDiscordSession(), nil)
	p.registry.BindChannel("chan-1", "guild-1")
	p.registry.BindChannel("chan-2", "guild-1")
	p.registry.BlacklistUser("123")
	p.metricMessagesHandled.Add(5)
	p.metricRepliesSent.Add(3)
	p.metricFallbackReplies.Add(1)
	p.discord.connected.Store(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	p.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status apiStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, Version, status.Version)
	assert.True(t, status.DiscordConnected)
	assert.Equal(t, 2, status.ChannelBindings)
	assert.Equal(t, 1, status.BlacklistedUsers)
	assert.Equal(t, 0, status.BlacklistedServers)
	assert.Equal(t, int64(5), status.MessagesHandled)
	assert.Equal(t, int64(3), status.RepliesSent)
	assert.Equal(t, int64(1), status.FallbackReplies)
}

func TestAPIStatusBeforeRun(t *testing.T) {
	t.Parallel()

	cfg := DefaultTestConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	p.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var status apiStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Zero(t, status.ChannelBindings)
	assert.False(t, status.DiscordConnected)
}
