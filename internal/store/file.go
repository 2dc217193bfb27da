package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFile replaces path with buf. The content is written to a uniquely named
// temporary file next to the target first so readers never see partial files.
func writeFile(path string, buf []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.Must(uuid.NewRandom()).String())
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}
