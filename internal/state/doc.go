// Package state provides filesystem-backed storage implementations.
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/liftcoach/internal/types"
)

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*ConversationStore)(nil)

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
