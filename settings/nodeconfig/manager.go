package nodeconfig

import (
	"fmt"
	"os"
)

// Manager resolves, lazily creates, and reads the on-disk
// FileConfiguration.
type Manager struct {
	resolver pathResolver
}

func NewManager() *Manager {
	return &Manager{resolver: newPathResolver()}
}

// Configuration returns the FileConfiguration at the resolved path,
// writing out NewDefaultConfiguration first if nothing exists there
// yet.
func (m *Manager) Configuration() (*FileConfiguration, error) {
	path, err := m.resolver.resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		defaults := NewDefaultConfiguration()
		if writeErr := newWriter(m.resolver).write(defaults); writeErr != nil {
			return nil, fmt.Errorf("could not write default configuration: %w", writeErr)
		}
	}

	return newReader(path).read()
}
