package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
)

// FileName is the name of the progress document inside a job's result directory.
const FileName = "progress.json"

// FileSink stores progress as <resultsDir>/<jobID>/progress.json.
type FileSink struct {
	resultsDir string
}

// NewFileSink creates a sink rooted at resultsDir.
func NewFileSink(resultsDir string) *FileSink {
	return &FileSink{resultsDir: resultsDir}
}

// Path returns the progress document of jobID.
func (s *FileSink) Path(jobID string) string {
	return filepath.Join(s.resultsDir, jobID, FileName)
}

// Write replaces the progress document atomically so readers never see a torn file.
func (s *FileSink) Write(_ context.Context, jobID string, record core.ProgressRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	path := s.Path(jobID)

	err = fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	err = fsutil.WriteFileAtomic(path, data)
	if err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}

	return nil
}

// Read returns the stored record, or the created record when none exists.
func (s *FileSink) Read(_ context.Context, jobID string) (core.ProgressRecord, error) {
	data, err := os.ReadFile(s.Path(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return Created(), nil
	}

	if err != nil {
		return core.ProgressRecord{}, fmt.Errorf("failed to read progress file: %w", err)
	}

	return decode(data)
}

func decode(data []byte) (core.ProgressRecord, error) {
	var record core.ProgressRecord

	err := json.Unmarshal(data, &record)
	if err != nil {
		return core.ProgressRecord{}, fmt.Errorf("failed to unmarshal progress record: %w", err)
	}

	return record, nil
}
