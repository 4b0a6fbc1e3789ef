package embedsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mnemo/internal/config"
)

const healthPollInterval = 250 * time.Millisecond

// Manager acquires a healthy embedding service: an explicit resource handle
// with a health contract. Callers go through EnsureRunning for every
// operation instead of caching the handle themselves.
type Manager struct {
	projectRoot string
	cfg         config.EmbeddingConfig
	log         *zap.Logger

	// spawn starts the service process and returns its pid. Replaced in tests.
	spawn func(host string, port int, model string) (int, error)
}

// NewManager creates a manager for one project.
func NewManager(projectRoot string, cfg config.EmbeddingConfig, log *zap.Logger) *Manager {
	m := &Manager{projectRoot: projectRoot, cfg: cfg, log: log}
	m.spawn = m.spawnProcess
	return m
}

// EnsureRunning returns a descriptor for a healthy embedding service,
// reusing a live instance when the persisted descriptor still answers, and
// spawning a fresh process otherwise. It never returns a descriptor for an
// unreachable service.
func (m *Manager) EnsureRunning(ctx context.Context) (*ServiceInfo, error) {
	descPath := DescriptorPath(m.projectRoot)

	if info, err := readServiceInfo(descPath); err == nil {
		if h, herr := m.checkHealth(ctx, info.Host, info.Port); herr == nil {
			if h.Model != "" && h.Model != info.Model {
				info.Model = h.Model
				if werr := writeServiceInfo(descPath, info); werr != nil {
					return nil, fmt.Errorf("rewrite service descriptor: %w", werr)
				}
			}
			m.log.Debug("reusing embedding service",
				zap.Int("port", info.Port), zap.Int("pid", info.PID))
			return info, nil
		}
		m.log.Info("embedding service descriptor is stale, respawning",
			zap.Int("port", info.Port), zap.Int("pid", info.PID))
	}

	host := m.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := m.cfg.Port
	if port == 0 {
		p, err := freePort(host)
		if err != nil {
			return nil, fmt.Errorf("allocate port: %w", err)
		}
		port = p
	}

	pid, err := m.spawn(host, port, m.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("spawn embedding service: %w", err)
	}

	// Persist a provisional descriptor right away so a concurrent caller
	// sees "starting" instead of racing a second spawn.
	info := &ServiceInfo{
		Host:      host,
		Port:      port,
		PID:       pid,
		Model:     m.cfg.Model,
		StartedAt: time.Now().UTC(),
	}
	if err := writeServiceInfo(descPath, info); err != nil {
		return nil, fmt.Errorf("write service descriptor: %w", err)
	}

	m.log.Info("spawned embedding service",
		zap.Int("port", port), zap.Int("pid", pid), zap.String("model", m.cfg.Model))

	deadline := time.Now().Add(m.startupTimeout())
	for {
		if h, herr := m.checkHealth(ctx, host, port); herr == nil {
			if h.Model != "" && h.Model != info.Model {
				m.log.Info("service substituted embedding model",
					zap.String("requested", info.Model), zap.String("actual", h.Model))
				info.Model = h.Model
				if werr := writeServiceInfo(descPath, info); werr != nil {
					return nil, fmt.Errorf("rewrite service descriptor: %w", werr)
				}
			}
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("embedding service did not become healthy within %s; see %s",
				m.startupTimeout(), m.serviceLogPath())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
}

// EmbedTexts embeds a batch of texts through the running service. The
// response must be one equal-length numeric vector per input text, in order;
// anything else fails loudly.
func (m *Manager) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	info, err := m.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string][]string{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("http://%s/embed", net.JoinHostPort(info.Host, strconv.Itoa(info.Port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: m.embedTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}

	var result struct {
		Vectors [][]float32 `json:"vectors"`
		Dim     int         `json:"dim"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Vectors) != len(texts) {
		return nil, fmt.Errorf("embed response shape mismatch: %d vectors for %d texts",
			len(result.Vectors), len(texts))
	}
	for i, v := range result.Vectors {
		if len(v) == 0 || (result.Dim > 0 && len(v) != result.Dim) {
			return nil, fmt.Errorf("embed response vector %d has dimension %d, want %d",
				i, len(v), result.Dim)
		}
	}
	return result.Vectors, nil
}

// Probe checks for a live service behind the persisted descriptor without
// spawning one. It returns nil when no healthy service is reachable.
func Probe(ctx context.Context, projectRoot string, cfg config.EmbeddingConfig) (*ServiceInfo, error) {
	info, err := readServiceInfo(DescriptorPath(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	m := NewManager(projectRoot, cfg, zap.NewNop())
	h, err := m.checkHealth(ctx, info.Host, info.Port)
	if err != nil {
		return nil, nil
	}
	if h.Model != "" {
		info.Model = h.Model
	}
	if h.PID != 0 {
		info.PID = h.PID
	}
	return info, nil
}

// ActiveModel reports the model the running service actually serves,
// which may be the configured fallback after substitution.
func (m *Manager) ActiveModel(ctx context.Context) (string, error) {
	info, err := m.EnsureRunning(ctx)
	if err != nil {
		return "", err
	}
	return info.Model, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	PID     int    `json:"pid"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

// checkHealth uses a short timeout, distinct from the longer embed timeout.
func (m *Manager) checkHealth(ctx context.Context, host string, port int) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, m.healthTimeout())
	defer cancel()

	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	if h.Status != "ok" {
		return nil, fmt.Errorf("service unhealthy: %s", h.Status)
	}
	return &h, nil
}

// spawnProcess starts `mnemo embedd` detached, with output redirected to the
// service log.
func (m *Manager) spawnProcess(host string, port int, model string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	logPath := m.serviceLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(m.serviceOutPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	cmd := exec.Command(exe, "embedd",
		"--project", m.projectRoot,
		"--host", host,
		"--port", strconv.Itoa(port),
		"--model", model,
	)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Detach: the service outlives this process.
	if err := cmd.Process.Release(); err != nil {
		return 0, err
	}
	return pid, nil
}

func (m *Manager) serviceLogPath() string {
	return filepath.Join(config.Dir(m.projectRoot), "logs", "embedd.log")
}

// serviceOutPath captures raw stdout/stderr of the spawned process (panics,
// startup failures); normal service logging goes to the rotating embedd.log.
func (m *Manager) serviceOutPath() string {
	return filepath.Join(config.Dir(m.projectRoot), "logs", "embedd.out")
}

func (m *Manager) startupTimeout() time.Duration {
	if m.cfg.StartupTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.cfg.StartupTimeoutSeconds) * time.Second
}

func (m *Manager) healthTimeout() time.Duration {
	if m.cfg.HealthTimeoutSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(m.cfg.HealthTimeoutSeconds) * time.Second
}

func (m *Manager) embedTimeout() time.Duration {
	if m.cfg.EmbedTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(m.cfg.EmbedTimeoutSeconds) * time.Second
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
