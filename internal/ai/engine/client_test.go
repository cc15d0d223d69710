package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSimilarity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calculate-score" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch req.StudentText {
		case "go, sql. CS.":
			_, _ = w.Write([]byte(`{"score": 72.5, "status": "Success"}`))
		case "empty":
			_, _ = w.Write([]byte(`{"status": "Failed"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/", nil)
	require.NoError(t, err)

	score, err := client.Similarity(context.Background(), "go, sql. CS.", "go. backend.")
	require.NoError(t, err)
	assert.InDelta(t, 72.5, score, 1e-9)

	_, err = client.Similarity(context.Background(), "empty", "x")
	require.Error(t, err)

	_, err = client.Similarity(context.Background(), "boom", "x")
	require.Error(t, err)
}

func TestClientSimilarityHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := New(srv.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Similarity(ctx, "a", "b")
	require.Error(t, err)
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New("  ", nil)
	require.Error(t, err)
}
