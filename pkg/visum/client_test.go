package visum

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")
	require.NotNil(t, client)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultMaxBatchSize, client.maxBatchSize)
	assert.NotNil(t, client.Records)
}

func TestNewClientWithOptions(t *testing.T) {
	t.Run("With all options", func(t *testing.T) {
		client := NewClientWithOptions(ClientOptions{
			BaseURL:              "https://visum.internal.example.com",
			APIKey:               "test-api-key",
			MaxBatchSize:         64,
			MaxConcurrentBatches: 4,
			RetryMax:             5,
			Timeout:              60 * time.Second,
		})

		require.NotNil(t, client)
		assert.Equal(t, "https://visum.internal.example.com", client.baseURL)
		assert.Equal(t, 64, client.maxBatchSize)
		assert.Equal(t, 4, client.maxConcurrentBatches)
		assert.Equal(t, 5, client.httpClient.RetryMax)
		assert.Equal(t, 60*time.Second, client.httpClient.HTTPClient.Timeout)
	})

	t.Run("With defaults", func(t *testing.T) {
		client := NewClientWithOptions(ClientOptions{
			APIKey: "test-api-key",
		})

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.baseURL)
		assert.Equal(t, DefaultMaxBatchSize, client.maxBatchSize)
		assert.Equal(t, 0, client.maxConcurrentBatches)
		assert.Equal(t, 3, client.httpClient.RetryMax)
		assert.Equal(t, 30*time.Second, client.httpClient.HTTPClient.Timeout)
	})

	t.Run("Base URL normalization", func(t *testing.T) {
		client := NewClientWithOptions(ClientOptions{
			BaseURL: "https://visum.internal.example.com/v2",
			APIKey:  "test-api-key",
		})
		assert.Equal(t, "https://visum.internal.example.com", client.baseURL)

		client = NewClientWithOptions(ClientOptions{
			BaseURL: "https://visum.internal.example.com/",
			APIKey:  "test-api-key",
		})
		assert.Equal(t, "https://visum.internal.example.com", client.baseURL)
	})
}

func TestClient_RequestHeaders(t *testing.T) {
	var (
		mu         sync.Mutex
		requestIDs []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify the request
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/v2/records", r.URL.Path)
		assert.Equal(t, "Key test-api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		requestID := r.Header.Get("X-Request-ID")
		_, err := uuid.Parse(requestID)
		assert.NoError(t, err, "X-Request-ID should be a UUID")
		mu.Lock()
		requestIDs = append(requestIDs, requestID)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":{"code":10000},"records":[]}`)); err != nil {
			slog.Error("Failed to write response", "error", err)
		}
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "test-api-key")

	_, err := client.Records.List(context.Background(), nil)
	require.NoError(t, err)
	_, err = client.Records.List(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, requestIDs, 2)
	assert.NotEqual(t, requestIDs[0], requestIDs[1], "every request should carry a fresh request id")
}

func TestClient_APIError(t *testing.T) {
	t.Run("service envelope", func(t *testing.T) {
		// Note: retryablehttp retries on 5xx, so error paths use 4xx statuses
		rawBody := `{"status":{"code":40001,"description":"record media is required"},"details":["data.image"]}`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			if _, err := w.Write([]byte(rawBody)); err != nil {
				slog.Error("Failed to write error response", "error", err)
			}
		}))
		defer server.Close()

		client := NewClientWithBaseURL(server.URL, "test-api-key")
		records, err := client.Records.List(context.Background(), nil)

		require.Error(t, err)
		assert.Nil(t, records)
		assert.ErrorIs(t, err, ErrAPI)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.NotNil(t, apiErr.Status)
		assert.Equal(t, StatusInvalidRequest, apiErr.Status.Code)
		assert.Equal(t, rawBody, string(apiErr.Body), "the raw response body must be preserved unmodified")
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("non-JSON body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			if _, err := w.Write([]byte("not json at all")); err != nil {
				slog.Error("Failed to write error response", "error", err)
			}
		}))
		defer server.Close()

		client := NewClientWithBaseURL(server.URL, "test-api-key")
		_, err := client.Records.List(context.Background(), nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
		assert.Nil(t, apiErr.Status)
		assert.Equal(t, "not json at all", string(apiErr.Body))
	})
}

func TestClient_InvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`invalid json`)); err != nil {
			slog.Error("Failed to write invalid JSON response", "error", err)
		}
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "test-api-key")
	records, err := client.Records.List(context.Background(), nil)

	assert.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestClient_TransportErrorPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "test-api-key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Records.List(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "transport failures must surface unchanged")
	assert.NotErrorIs(t, err, ErrAPI)
}

func TestClient_BearerAuthHeader(t *testing.T) {
	var sawBearer bool

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/token", func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client-id", req.ClientID)
		assert.Equal(t, "client-secret", req.ClientSecret)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tokenResponse{AccessToken: "issued-token", TokenType: "Bearer", ExpiresIn: 3600}); err != nil {
			t.Errorf("Failed to encode token response: %v", err)
		}
	})
	mux.HandleFunc("GET /v2/records", func(w http.ResponseWriter, r *http.Request) {
		sawBearer = r.Header.Get("Authorization") == "Bearer issued-token"
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":{"code":10000},"records":[]}`)); err != nil {
			slog.Error("Failed to write response", "error", err)
		}
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClientWithOptions(ClientOptions{
		BaseURL:      server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})

	_, err := client.Records.List(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, sawBearer, "records request should carry the exchanged bearer token")
}

func TestClient_UnauthenticatedWhenNoCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		if _, err := w.Write([]byte(`{"status":{"code":40101,"description":"authentication required"}}`)); err != nil {
			slog.Error("Failed to write error response", "error", err)
		}
	}))
	defer server.Close()

	client := NewClientWithOptions(ClientOptions{BaseURL: server.URL})

	_, err := client.Records.List(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, "/records/abc123", recordPath("abc123"))
	assert.Equal(t, "/records/a%2Fb", recordPath("a/b"), "ids must be path-escaped")
}
