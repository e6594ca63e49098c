package helpers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Swapped in tests to simulate cross-device renames.
var renameFunc = os.Rename

// MoveFile moves src to dst, creating dst's directory. A rename is tried
// first; when src and dst live on different filesystems the file is copied
// to a temporary file next to dst, renamed into place, and src is removed.
// It returns the number of bytes copied (0 for a plain rename).
func MoveFile(src, dst string) (uint64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating destination directory %s: %w", dir, err)
	}

	err := renameFunc(src, dst)
	if err == nil {
		return 0, nil
	}
	if !isCrossDevice(err) {
		return 0, fmt.Errorf("moving %s to %s: %w", src, dst, err)
	}

	log.Debugf("Rename of %s crosses filesystems, copying instead", src)
	copied, err := copyIntoPlace(src, dst)
	if err != nil {
		return 0, err
	}
	log.Debugf("Copied %s to %s", BytesToSize(copied), dst)
	if err := os.Remove(src); err != nil {
		log.WithError(err).Warnf("Moved %s but could not remove the original", src)
	}
	return copied, nil
}

func copyIntoPlace(src, dst string) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tempFile, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temporary file for %s: %w", dst, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			_ = tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	counter := &CounterWriter{Writer: tempFile}
	if _, err := io.Copy(counter, in); err != nil {
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tempFile.Sync(); err != nil {
		return 0, fmt.Errorf("syncing %s: %w", tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), dst); err != nil {
		return 0, fmt.Errorf("renaming %s to %s: %w", tempFile.Name(), dst, err)
	}
	shouldCleanupTemp = false
	return counter.Total, nil
}
