package nodeconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

type pathResolver interface {
	resolve() (string, error)
}

// defaultPathResolver places conf.json alongside the node's working
// directory, overridable via NODECOORD_CONFIG for deployments that
// don't want to cd into a fixed layout.
type defaultPathResolver struct{}

func newPathResolver() defaultPathResolver { return defaultPathResolver{} }

func (defaultPathResolver) resolve() (string, error) {
	if p := os.Getenv("NODECOORD_CONFIG"); p != "" {
		return p, nil
	}
	workingDirectory, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve configuration path: %w", err)
	}
	return filepath.Join(workingDirectory, "conf.json"), nil
}
