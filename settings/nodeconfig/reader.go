package nodeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type reader struct {
	path string
}

func newReader(path string) *reader {
	return &reader{path: path}
}

func (r *reader) read() (*FileConfiguration, error) {
	if _, err := os.Stat(r.path); err != nil {
		return nil, fmt.Errorf("configuration file not found: %s", r.path)
	}

	fileBytes, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("configuration file (%s) is unreadable: %w", r.path, err)
	}

	var cfg FileConfiguration
	if err := json.Unmarshal(fileBytes, &cfg); err != nil {
		return nil, fmt.Errorf("configuration file (%s) is invalid: %w", r.path, err)
	}

	r.applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets a handful of deployment-time knobs bypass the
// file without a rewrite.
func (r *reader) applyEnvOverrides(cfg *FileConfiguration) {
	if v := os.Getenv("NODECOORD_LISTEN_ON"); v != "" {
		cfg.ListenOn = v
	}
	if v := os.Getenv("NODECOORD_ADAPTER_MODE"); v != "" {
		cfg.AdapterMode = v
	}
	if v := os.Getenv("NODECOORD_HELLO_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HelloTimeoutMs = ms
		}
	}
}
