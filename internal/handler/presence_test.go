package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceHandler(t *testing.T) {
	app := newTestApp(t)
	app.open(t, "alice")
	app.open(t, "bob")

	rec := app.do(t, http.MethodGet, "/v1/presence", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"alice", "bob"}, body["users"])
	assert.EqualValues(t, 2, body["count"])

	rec = app.do(t, http.MethodGet, "/v1/presence/alice", "carol", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["online"])
	assert.NotNil(t, body["lastActiveAt"])

	rec = app.do(t, http.MethodGet, "/v1/presence/zed", "carol", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, "zed", body["userId"])
	assert.Equal(t, false, body["online"])
	assert.Nil(t, body["lastActiveAt"])
}

func TestHealthHandler(t *testing.T) {
	healthy := PingFunc(func(ctx context.Context) error { return nil })
	broken := PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	t.Run("all dependencies up", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(map[string]Pinger{"postgres": healthy, "redis": healthy}).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	})

	t.Run("one dependency down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(map[string]Pinger{"postgres": healthy, "redis": broken}).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, map[string]any{"postgres": "ok", "redis": "down"}, body["dependencies"])
	})
}

func TestParsePage(t *testing.T) {
	page := ParsePage(httptest.NewRequest(http.MethodGet, "/?skip=20&limit=10", nil))
	assert.Equal(t, 20, page.Skip)
	assert.Equal(t, 10, page.Limit)

	page = ParsePage(httptest.NewRequest(http.MethodGet, "/?skip=-1&limit=abc", nil))
	assert.Equal(t, 0, page.Skip)
	assert.Equal(t, 50, page.Limit)
}
