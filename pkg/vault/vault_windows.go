//go:build windows

package vault

// checkPermissions is a no-op on Windows, where access is governed by ACLs.
func (v *Vault) checkPermissions(paths ...string) {}
