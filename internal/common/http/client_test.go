package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/common/errors"
)

func TestClient_DoJSON(t *testing.T) {
	t.Run("round trip with basic auth", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "orthanc", user)
			assert.Equal(t, "secret", pass)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var in map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "value", in["key"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		client := NewClient(WithBasicAuth("orthanc", "secret"))
		var out struct {
			OK bool `json:"ok"`
		}
		resp, err := client.DoJSON(context.Background(), http.MethodPost, server.URL, map[string]string{"key": "value"}, &out)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, out.OK)
	})

	t.Run("server error is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		resp, err := NewClient().DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
		assert.True(t, IsRetryable(err))
	})

	t.Run("client error is not retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unknown modality", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewClient().DoJSON(context.Background(), http.MethodPost, server.URL, struct{}{}, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "unknown modality")
		assert.False(t, IsRetryable(err))
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := NewClient().DoJSON(ctx, http.MethodGet, server.URL, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
	})

	t.Run("client timeout is a timeout error", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client := NewClient(WithTimeout(20 * time.Millisecond))
		_, err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
	})

	t.Run("unreachable host is a connection error", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewClient().DoJSON(context.Background(), http.MethodGet, url, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})
}
