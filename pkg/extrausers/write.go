package extrausers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

const (
	passwdMode = 0644
	groupMode  = 0644
	// shadow stays group-readable only even though every entry is locked.
	shadowMode = 0640
)

// Write materialises the snapshot under outdir. Each file lands via a temp
// file in the destination directory followed by a rename, so NSS lookups
// never observe a half-written database.
func (s Snapshot) Write(outdir string) error {
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outdir, err)
	}

	files := []struct {
		name string
		text string
		mode os.FileMode
	}{
		{"passwd", s.Passwd, passwdMode},
		{"group", s.Group, groupMode},
		{"shadow", s.Shadow, shadowMode},
	}
	for _, f := range files {
		path := filepath.Join(outdir, f.name)
		if err := renameio.WriteFile(path, []byte(f.text), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}
