package pipeline

import (
	"errors"
	"io/fs"
	"os"

	"github.com/book-expert/logger"
)

// removeQuietly deletes intermediates. Cleanup is best effort: a failure is logged and
// never changes the outcome of a slide or a job. Missing files are not failures.
func removeQuietly(log *logger.Logger, paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}

		err := os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to remove '%s': %v", path, err)
		}
	}
}

// removeTreeQuietly deletes a directory tree under the same policy as removeQuietly.
func removeTreeQuietly(log *logger.Logger, dir string) {
	if dir == "" {
		return
	}

	err := os.RemoveAll(dir)
	if err != nil {
		log.Warn("Failed to remove directory '%s': %v", dir, err)
	}
}
