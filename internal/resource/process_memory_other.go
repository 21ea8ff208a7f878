//go:build !linux

package resource

import "errors"

// ProcessRSSBytes is a stub for platforms without a /proc/self/status
// equivalent wired up. Callers must treat the error as "skip the gate check".
func ProcessRSSBytes() (int64, error) {
	return 0, errors.New("process RSS sampling not supported on this platform")
}
