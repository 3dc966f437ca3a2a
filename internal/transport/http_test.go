package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPushRequest() *api.PushRequest {
	return &api.PushRequest{
		ActionID:       "a-1",
		IdempotencyKey: "idem-u-1",
		EntityType:     "contato",
		EntityID:       "c-1",
		Operation:      "update",
		Payload:        json.RawMessage(`{"name":"Ana"}`),
		BaseVersion:    3,
	}
}

func TestSend_Success(t *testing.T) {
	var gotIdempotency string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sync/push", r.URL.Path)
		gotIdempotency = r.Header.Get("X-Idempotency-Key")

		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a-1", req.ActionID)

		resp := api.PushResponse{Snapshot: api.Snapshot{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Payload:    req.Payload,
			Version:    req.BaseVersion + 1,
			UpdatedAt:  time.Now().UTC(),
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())

	resp, err := client.Send(context.Background(), testPushRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(4), resp.Snapshot.Version)
	assert.Equal(t, "idem-u-1", gotIdempotency)
}

func TestSend_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conflict := api.ConflictResponse{
			Remote: api.Snapshot{
				EntityType: "contato",
				EntityID:   "c-1",
				Payload:    json.RawMessage(`{"name":"Bia"}`),
				Version:    4,
			},
			BaseVersion: 3,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		require.NoError(t, json.NewEncoder(w).Encode(conflict))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())

	_, err := client.Send(context.Background(), testPushRequest())
	require.Error(t, err)

	ce, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(4), ce.Remote.Version)
	assert.Equal(t, int64(3), ce.BaseVersion)
	assert.False(t, IsTransient(err))
}

func TestSend_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		require.NoError(t, json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:   "validation",
			Message: "payload rejected",
			Code:    "invalid_phone",
		}))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())

	_, err := client.Send(context.Background(), testPushRequest())
	require.Error(t, err)

	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_phone", ve.Code)
	assert.False(t, IsTransient(err))
}

func TestSend_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())

	_, err := client.Send(context.Background(), testPushRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSend_ConnectionRefusedIsTransient(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", time.Second, testLogger())

	_, err := client.Send(context.Background(), testPushRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/resources/contato/c-1", r.URL.Path)
		resp := api.FetchResponse{Snapshot: api.Snapshot{
			EntityType: "contato",
			EntityID:   "c-1",
			Payload:    json.RawMessage(`{"name":"Ana"}`),
			Version:    7,
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())

	resp, err := client.Fetch(context.Background(), "contato/c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.Snapshot.Version)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	assert.NoError(t, client.Ping(context.Background()))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())

	// Превышаем порог отказов, чтобы breaker открылся
	for i := 0; i < 10; i++ {
		_, err := client.Send(context.Background(), testPushRequest())
		require.Error(t, err)
		assert.True(t, IsTransient(err), "attempt %d", i)
	}
}

func TestSnapshotFromAPI_CopiesPayload(t *testing.T) {
	apiSnap := &api.Snapshot{
		EntityType: "contato",
		EntityID:   "c-1",
		Payload:    json.RawMessage(`{"name":"Ana"}`),
		Version:    2,
	}

	snap := SnapshotFromAPI(apiSnap)
	snap.Payload[0] = 'X'

	assert.JSONEq(t, `{"name":"Ana"}`, string(apiSnap.Payload))
	assert.Equal(t, int64(2), snap.Version)
}
