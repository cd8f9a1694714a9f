package qchain

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashClient_GenerateHash(t *testing.T) {
	requests := make(chan generateHashRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate-hash", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req generateHashRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quantum_hash":"abc123","algorithm":"qrng-sha3"}`))
	}))
	defer server.Close()

	c := NewHashClient(server.URL + "/")
	hash, err := c.GenerateHash(context.Background(), []byte("image-bytes"), "Sunset", "Orange sky")
	require.NoError(t, err)

	assert.Equal(t, "abc123", hash)
	got := <-requests
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("image-bytes")), got.ImageData)
	assert.Equal(t, "Sunset", got.Name)
	assert.Equal(t, "Orange sky", got.Description)
}

func TestHashClient_GenerateHash_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"quantum_hash":`))
		}},
		{"missing hash", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewHashClient(server.URL).GenerateHash(context.Background(), []byte{1}, "n", "d")
			assert.ErrorIs(t, err, ErrExternalService)
		})
	}
}

func TestHashClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHashClient(url).GenerateHash(context.Background(), []byte{1}, "n", "d")
	assert.ErrorIs(t, err, ErrExternalService)
}

func TestHashClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewHashClient(server.URL, WithHashTimeout(50*time.Millisecond))
	_, err := c.GenerateHash(context.Background(), []byte{1}, "n", "d")
	assert.ErrorIs(t, err, ErrExternalService)
}

func TestHashClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"quantum_hash":"h"}`))
	}))
	defer server.Close()

	c := NewHashClient(server.URL, WithRateLimit(0.001, 1))
	_, err := c.GenerateHash(context.Background(), []byte{1}, "n", "d")
	require.NoError(t, err)

	// the burst is spent, the next call cannot get a token before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GenerateHash(ctx, []byte{1}, "n", "d")
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHashClient_CheckHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	c := NewHashClient(server.URL)
	assert.NoError(t, c.CheckHealth(context.Background()))

	healthy.Store(false)
	assert.ErrorIs(t, c.CheckHealth(context.Background()), ErrExternalService)
}

func TestHashClient_WithHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quantum_hash":"h"}`))
	}))
	defer server.Close()

	c := NewHashClient(server.URL, WithHTTPClient(server.Client()))
	hash, err := c.GenerateHash(context.Background(), []byte{1}, "n", "d")
	require.NoError(t, err)
	assert.Equal(t, "h", hash)
}
