//go:build !unix && !windows

package helpers

func isCrossDevice(err error) bool {
	return false
}
