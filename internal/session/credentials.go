package session

import (
	"os"
	"path/filepath"
)

func credentialDir(authRoot, tenantID string) string {
	return filepath.Join(authRoot, tenantID)
}

func removeAll(dir string) error {
	return os.RemoveAll(dir)
}
