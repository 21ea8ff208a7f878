//go:build !linux && !darwin

package resource

import "errors"

// DiskFreeBytes is a stub for platforms without a syscall.Statfs equivalent.
// The production build targets Linux and macOS where disk_free_linux.go's
// implementation is used.
func DiskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
