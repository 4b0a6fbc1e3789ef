// Package embedsvc manages the lifecycle of the local embedding service: a
// detached `mnemo embedd` subprocess serving /health and /embed. The manager
// reuses a healthy running instance via a persisted descriptor and only
// spawns when none answers.
package embedsvc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/fsutil"
)

// Version is reported by the /health endpoint.
const Version = "0.1.0"

// ServiceInfo is the persisted runtime descriptor of a running (or starting)
// embedding service. Model may differ from the requested model if the server
// substituted a fallback.
type ServiceInfo struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

// DescriptorPath is where the service descriptor lives for a project.
func DescriptorPath(projectRoot string) string {
	return filepath.Join(config.Dir(projectRoot), "embedd.json")
}

func readServiceInfo(path string) (*ServiceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info ServiceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeServiceInfo(path string, info *ServiceInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}
