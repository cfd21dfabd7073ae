package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins a VFS path onto a provider root and guarantees the
// result stays within that root. It is how pkg/providers/localfs turns a
// VFS-absolute path (e.g. "/tenants/acme/report.csv") into a real path on
// disk without ever handing the host OS something a caller could use to
// escape the configured root via "..".
//
// Example usage:
//
//	full, err := utils.SecureJoin(p.root, "/tenants/acme/report.csv")
//	if err != nil {
//		return fsprovider.InvalidInput("path escapes provider root: " + path)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)

	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
