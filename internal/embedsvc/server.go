package embedsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mnemo/internal/embedder"
)

// Engine is the model runtime behind the served /embed endpoint.
type Engine interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Server is the embedding service HTTP surface. It serializes inference with
// a mutex so concurrent client processes queue rather than race the model
// runtime.
type Server struct {
	model string
	eng   Engine
	mu    sync.Mutex
	log   *zap.Logger
}

// NewServer creates a server bound to an already-resolved model.
func NewServer(model string, eng Engine, log *zap.Logger) *Server {
	return &Server{model: model, eng: eng, log: log}
}

// ResolveModel checks the requested model against the runtime and substitutes
// the fallback when it is unavailable. The substitution is visible through
// /health so managers can correct their descriptors.
func ResolveModel(ctx context.Context, baseURL, requested, fallback string, log *zap.Logger) (string, error) {
	probe := embedder.NewOllama(baseURL, requested)
	ok, err := probe.HasModel(ctx, requested)
	if err != nil {
		return "", fmt.Errorf("probe model runtime: %w", err)
	}
	if ok {
		return requested, nil
	}
	if fallback == "" || fallback == requested {
		return requested, nil
	}
	log.Warn("requested embedding model unavailable, substituting fallback",
		zap.String("requested", requested), zap.String("fallback", fallback))
	return fallback, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /embed", s.handleEmbed)
	return mux
}

// ListenAndServe blocks serving until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info("embedding service listening",
		zap.String("addr", srv.Addr), zap.String("model", s.model))

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pid":     os.Getpid(),
		"model":   s.model,
		"version": Version,
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Texts []string `json:"texts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if len(req.Texts) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"vectors": [][]float32{}, "dim": 0})
		return
	}

	// One request at a time through the model runtime.
	s.mu.Lock()
	vecs, err := s.eng.Embed(r.Context(), req.Texts)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("embed failed", zap.Int("texts", len(req.Texts)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
	}
	writeJSON(w, http.StatusOK, map[string]any{"vectors": vecs, "dim": dim})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
