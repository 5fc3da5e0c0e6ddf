// Package jobstore keeps the inputs of lecture jobs on the local filesystem.
//
// Uploads live under <uploads>/<jobID>/ and everything the service derives for a job
// (parameters, slide data, edited narration, results) under <results>/<jobID>/.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/lecture-service/internal/narration"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// File names inside a job's result directory.
const (
	ParametersFileName = "config.json"
	SlidesDataFileName = "slides_data.json"
	SlidesTextFileName = "slides_text.md"
)

const (
	sourceImageBase  = "source_image"
	slideDeckName    = "slides.pptx"
	voiceSampleBase  = "voice_sample"
	defaultImageExt  = ".png"
	defaultSampleExt = ".mp3"
)

var (
	ErrInvalidJobID      = errors.New("invalid job id")
	ErrUploadMissing     = errors.New("upload not found")
	ErrUnsupportedUpload = errors.New("unsupported file type")
)

// FileStore implements core.AssetProvider over the uploads and results directories.
type FileStore struct {
	uploadsDir string
	resultsDir string
	log        *logger.Logger
}

// NewFileStore creates a store rooted at the given directories.
func NewFileStore(uploadsDir, resultsDir string, log *logger.Logger) *FileStore {
	return &FileStore{uploadsDir: uploadsDir, resultsDir: resultsDir, log: log}
}

// CreateJob allocates a new job id and its directories.
func (s *FileStore) CreateJob() (string, error) {
	jobID := uuid.NewString()

	for _, dir := range []string{s.UploadDir(jobID), s.ResultDir(jobID)} {
		err := fsutil.EnsureDir(dir)
		if err != nil {
			return "", err
		}
	}

	s.log.Info("Created job %s", jobID)

	return jobID, nil
}

// UploadDir returns the upload directory of jobID.
func (s *FileStore) UploadDir(jobID string) string {
	return filepath.Join(s.uploadsDir, jobID)
}

// ResultDir returns the result directory of jobID.
func (s *FileStore) ResultDir(jobID string) string {
	return filepath.Join(s.resultsDir, jobID)
}

// SaveUpload stores an uploaded file of the given kind and returns its path. The
// extension of originalName is kept for images and voice samples; a previous upload of
// the same kind is replaced.
func (s *FileStore) SaveUpload(jobID string, kind core.UploadKind, originalName string, content io.Reader) (string, error) {
	err := validateJobID(jobID)
	if err != nil {
		return "", err
	}

	name, err := uploadName(kind, originalName)
	if err != nil {
		return "", err
	}

	dir := s.UploadDir(jobID)

	err = fsutil.EnsureDir(dir)
	if err != nil {
		return "", err
	}

	s.removePrevious(dir, kind, name)

	path := filepath.Join(dir, name)

	err = writeStream(path, content)
	if err != nil {
		return "", err
	}

	s.log.Info("Job %s: stored %s upload at %s", jobID, kind, path)

	return path, nil
}

// UploadPath returns the stored file of kind for jobID, or ErrUploadMissing.
func (s *FileStore) UploadPath(jobID string, kind core.UploadKind) (string, error) {
	err := validateJobID(jobID)
	if err != nil {
		return "", err
	}

	dir := s.UploadDir(jobID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s for job %s", ErrUploadMissing, kind, jobID)
		}

		return "", fmt.Errorf("failed to list uploads of job %s: %w", jobID, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !matchesKind(kind, entry.Name()) {
			continue
		}

		return filepath.Join(dir, entry.Name()), nil
	}

	return "", fmt.Errorf("%w: %s for job %s", ErrUploadMissing, kind, jobID)
}

// SaveParameters persists the job's synthesis parameters.
func (s *FileStore) SaveParameters(jobID string, params core.Parameters) error {
	return s.writeJSON(jobID, ParametersFileName, params)
}

// SaveSlides persists the slide data extracted from the deck.
func (s *FileStore) SaveSlides(jobID string, slides []core.Slide) error {
	if slides == nil {
		slides = []core.Slide{}
	}

	return s.writeJSON(jobID, SlidesDataFileName, slides)
}

// SaveSlidesText persists the user-edited narration text.
func (s *FileStore) SaveSlidesText(jobID, text string) error {
	err := s.prepareResultDir(jobID)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(filepath.Join(s.ResultDir(jobID), SlidesTextFileName), []byte(text))
}

// SlidesText returns the stored narration text, or "" when none was saved.
func (s *FileStore) SlidesText(jobID string) (string, error) {
	data, err := s.readResultFile(jobID, SlidesTextFileName)
	if err != nil || data == nil {
		return "", err
	}

	return string(data), nil
}

// Parameters returns the stored parameters over the defaults. A job without a
// parameters file runs with DefaultParameters.
func (s *FileStore) Parameters(_ context.Context, jobID string) (core.Parameters, error) {
	params := core.DefaultParameters()

	data, err := s.readResultFile(jobID, ParametersFileName)
	if err != nil {
		return core.Parameters{}, err
	}

	if data != nil {
		err = json.Unmarshal(data, &params)
		if err != nil {
			return core.Parameters{}, fmt.Errorf("failed to decode parameters of job %s: %w", jobID, err)
		}
	}

	return params.WithDefaults(), nil
}

// PresenterImage returns the uploaded presenter image.
func (s *FileStore) PresenterImage(_ context.Context, jobID string) (string, error) {
	return s.UploadPath(jobID, core.UploadSourceImage)
}

// Slides merges the edited narration with the slide data extracted from the deck.
// Relative image paths are resolved against the job's result directory.
func (s *FileStore) Slides(_ context.Context, jobID string) ([]core.Slide, error) {
	var deck []core.Slide

	data, err := s.readResultFile(jobID, SlidesDataFileName)
	if err != nil {
		return nil, err
	}

	if data != nil {
		err = json.Unmarshal(data, &deck)
		if err != nil {
			return nil, fmt.Errorf("failed to decode slide data of job %s: %w", jobID, err)
		}
	}

	for index := range deck {
		path := deck[index].ImagePath
		if path != "" && !filepath.IsAbs(path) {
			deck[index].ImagePath = filepath.Join(s.ResultDir(jobID), path)
		}
	}

	text, err := s.SlidesText(jobID)
	if err != nil {
		return nil, err
	}

	return narration.MergeWithImages(narration.ParseSlidesText(text), deck), nil
}

func (s *FileStore) writeJSON(jobID, name string, value any) error {
	err := s.prepareResultDir(jobID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	return fsutil.WriteFileAtomic(filepath.Join(s.ResultDir(jobID), name), data)
}

func (s *FileStore) prepareResultDir(jobID string) error {
	err := validateJobID(jobID)
	if err != nil {
		return err
	}

	return fsutil.EnsureDir(s.ResultDir(jobID))
}

// readResultFile returns nil data without error when the file does not exist.
func (s *FileStore) readResultFile(jobID, name string) ([]byte, error) {
	err := validateJobID(jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.ResultDir(jobID), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s of job %s: %w", name, jobID, err)
	}

	return data, nil
}

func (s *FileStore) removePrevious(dir string, kind core.UploadKind, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.Name() == keep || !matchesKind(kind, entry.Name()) {
			continue
		}

		err = os.Remove(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.log.Warn("Failed to remove previous upload '%s': %v", entry.Name(), err)
		}
	}
}

func validateJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" || jobID != fsutil.SanitizeFilename(jobID) || strings.HasPrefix(jobID, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}

	return nil
}

func uploadName(kind core.UploadKind, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))

	switch kind {
	case core.UploadSourceImage:
		if ext == "" {
			ext = defaultImageExt
		}

		if !fsutil.IsValidImageFile(ext) {
			return "", fmt.Errorf("%w: %s for %s", ErrUnsupportedUpload, ext, kind)
		}

		return sourceImageBase + ext, nil
	case core.UploadSlideDeck:
		return slideDeckName, nil
	case core.UploadVoiceSample:
		if ext == "" {
			ext = defaultSampleExt
		}

		if !fsutil.IsValidAudioFile(ext) {
			return "", fmt.Errorf("%w: %s for %s", ErrUnsupportedUpload, ext, kind)
		}

		return voiceSampleBase + ext, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnknownUploadKind, kind)
	}
}

func matchesKind(kind core.UploadKind, name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}

	switch kind {
	case core.UploadSourceImage:
		return strings.HasPrefix(name, sourceImageBase)
	case core.UploadSlideDeck:
		return name == slideDeckName
	case core.UploadVoiceSample:
		return strings.HasPrefix(name, voiceSampleBase)
	default:
		return false
	}
}

// writeStream copies content into a sibling temp file and renames it over path.
func writeStream(path string, content io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", path, err)
	}

	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, content)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to store '%s': %w", path, errors.Join(copyErr, closeErr))
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to store '%s': %w", path, err)
	}

	return nil
}
