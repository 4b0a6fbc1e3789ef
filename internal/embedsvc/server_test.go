package embedsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEngine struct {
	err error
}

func (e *stubEngine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{float32(i), 0.5}
	}
	return vecs, nil
}

func TestServerHealth(t *testing.T) {
	s := NewServer("nomic-embed-text", &stubEngine{}, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "nomic-embed-text", h.Model)
	assert.Equal(t, Version, h.Version)
	assert.NotZero(t, h.PID)
}

func TestServerEmbed(t *testing.T) {
	s := NewServer("m", &stubEngine{}, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := bytes.NewReader([]byte(`{"texts": ["a", "b", "c"]}`))
	resp, err := http.Post(srv.URL+"/embed", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Vectors [][]float32 `json:"vectors"`
		Dim     int         `json:"dim"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Vectors, 3)
	assert.Equal(t, 2, out.Dim)
}

func TestServerEmbedEngineError(t *testing.T) {
	s := NewServer("m", &stubEngine{err: errors.New("runtime down")}, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/embed", "application/json", bytes.NewReader([]byte(`{"texts": ["a"]}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServerEmbedBadJSON(t *testing.T) {
	s := NewServer("m", &stubEngine{}, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/embed", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
