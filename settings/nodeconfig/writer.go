package nodeconfig

import (
	"encoding/json"
	"os"
)

type writer struct {
	resolver pathResolver
}

func newWriter(resolver pathResolver) *writer {
	return &writer{resolver: resolver}
}

func (w *writer) write(cfg FileConfiguration) error {
	jsonContent, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path, err := w.resolver.resolve()
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	_, err = file.Write(jsonContent)
	return err
}
