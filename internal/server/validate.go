package server

import (
	"os"
	"path/filepath"
	"strings"

	"canvas-sync/internal/protocol"
)

// validatePath checks that path exists and is a directory (wantDir) or a
// regular file. Failures are reported inline, never as errors.
func validatePath(path string, wantDir bool) protocol.ValidateResult {
	path = strings.TrimSpace(path)
	if path == "" {
		return protocol.ValidateResult{Error: "path is required"}
	}
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.ValidateResult{Error: "path does not exist"}
		}
		return protocol.ValidateResult{Error: err.Error()}
	}
	if wantDir && !fi.IsDir() {
		return protocol.ValidateResult{Error: "not a directory"}
	}
	if !wantDir && !fi.Mode().IsRegular() {
		return protocol.ValidateResult{Error: "not a regular file"}
	}
	return protocol.ValidateResult{Valid: true}
}
