//go:build !windows

package vault

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// checkPermissions warns when the data directory or the vault files are
// readable by other users. It never blocks.
func (v *Vault) checkPermissions(paths ...string) {
	seen := map[string]bool{}
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			if info, err := os.Stat(dir); err == nil {
				if perm := info.Mode().Perm(); perm&0o077 != 0 {
					v.log.Warn("data directory has insecure permissions",
						zap.String("path", dir), zap.String("mode", perm.String()))
				}
			}
		}
		if info, err := os.Stat(p); err == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				v.log.Warn("file has insecure permissions",
					zap.String("path", p), zap.String("mode", perm.String()))
			}
		}
	}
}
