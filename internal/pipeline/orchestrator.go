package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/logger"
)

// File names inside a job's result directory.
const (
	SourceImageName  = "source_image.png"
	ManifestName     = "concat_list.txt"
	FinalVideoName   = "lecture_final.mp4"
	startingMessage  = "Starting..."
	slideMessageFmt  = "Processed slide %d/%d"
	doneStatusFormat = "Lecture created from %d slide(s), estimated narration %s"
)

// Job-fatal errors. RunJob reports them through JobResult.Status.
var (
	ErrNoSlides          = errors.New("no slides to process")
	ErrDuplicateSlide    = errors.New("duplicate slide number")
	ErrPresenterMissing  = errors.New("presenter image not found")
	ErrNoClips           = errors.New("cannot create video for any slide")
	ErrFinalVideoMissing = errors.New("final video not found on disk")
	ErrJobCancelled      = errors.New("job cancelled")
	ErrConcatenation     = errors.New("failed to concatenate video clips")
	ErrPresenterUnusable = errors.New("presenter image could not be copied")
	ErrResultDirUnusable = errors.New("result directory could not be created")
)

// ProgressFunc receives a report after every slide. It is called synchronously.
type ProgressFunc func(current, total int, message string)

// JobRequest is everything RunJob needs for one lecture.
type JobRequest struct {
	JobID          string
	Slides         []core.Slide
	PresenterImage string
	Params         core.Parameters
}

// Orchestrator runs whole jobs, one slide at a time.
type Orchestrator struct {
	stage      *Stage
	deps       Dependencies
	resultsDir string
	log        *logger.Logger
}

// NewOrchestrator creates an orchestrator writing below resultsDir.
func NewOrchestrator(deps Dependencies, resultsDir string, silence time.Duration, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		stage:      NewStage(deps, silence, log),
		deps:       deps,
		resultsDir: resultsDir,
		log:        log,
	}
}

// JobDir returns the result directory of jobID.
func (o *Orchestrator) JobDir(jobID string) string {
	return filepath.Join(o.resultsDir, jobID)
}

// RunJob builds the lecture video of req. It never returns a Go error: every failure is
// reported as a JobResult with OK unset and a human-readable status.
func (o *Orchestrator) RunJob(ctx context.Context, req JobRequest, progress ProgressFunc) core.JobResult {
	if progress == nil {
		progress = func(int, int, string) {}
	}

	job, slides, err := o.start(req)
	if err != nil {
		return o.fail(req.JobID, err)
	}

	total := len(slides)
	progress(0, total, startingMessage)

	var (
		clips         []string
		totalDuration float64
	)

	for index, slide := range slides {
		if ctx.Err() != nil {
			o.cleanup(ctx, job, clips)

			return o.fail(req.JobID, fmt.Errorf("%w: %w", ErrJobCancelled, ctx.Err()))
		}

		outcome := o.stage.Process(ctx, job, slide)
		if outcome.State == SlideDone {
			clips = append(clips, outcome.ClipPath)
			totalDuration += outcome.Duration
		}

		progress(index+1, total, fmt.Sprintf(slideMessageFmt, index+1, total))
	}

	videoPath, err := o.finalize(ctx, job, clips)
	o.cleanup(ctx, job, clips)

	if err != nil {
		return o.fail(req.JobID, err)
	}

	status := fmt.Sprintf(doneStatusFormat, len(clips), fsutil.FormatDuration(totalDuration))
	o.log.Info("Job %s done: %s (%s)", req.JobID, videoPath, status)

	return core.JobResult{OK: true, VideoPath: videoPath, Status: status}
}

// start validates the request and prepares the job directory.
func (o *Orchestrator) start(req JobRequest) (Job, []core.Slide, error) {
	if len(req.Slides) == 0 {
		return Job{}, nil, ErrNoSlides
	}

	slides, err := orderSlides(req.Slides)
	if err != nil {
		return Job{}, nil, err
	}

	if !fsutil.FileExists(req.PresenterImage) {
		return Job{}, nil, fmt.Errorf("%w: %q", ErrPresenterMissing, req.PresenterImage)
	}

	jobDir, err := filepath.Abs(o.JobDir(req.JobID))
	if err != nil {
		return Job{}, nil, fmt.Errorf("%w: %w", ErrResultDirUnusable, err)
	}

	err = fsutil.EnsureDir(jobDir)
	if err != nil {
		return Job{}, nil, fmt.Errorf("%w: %w", ErrResultDirUnusable, err)
	}

	presenter := filepath.Join(jobDir, SourceImageName)
	if !samePath(req.PresenterImage, presenter) {
		err = fsutil.CopyFile(req.PresenterImage, presenter)
		if err != nil {
			return Job{}, nil, fmt.Errorf("%w: %w", ErrPresenterUnusable, err)
		}
	}

	job := Job{
		ID:             req.JobID,
		Dir:            jobDir,
		PresenterImage: presenter,
		Params:         req.Params.WithDefaults(),
	}

	return job, slides, nil
}

// finalize concatenates the clips into the final video.
func (o *Orchestrator) finalize(ctx context.Context, job Job, clips []string) (string, error) {
	if len(clips) == 0 {
		return "", ErrNoClips
	}

	videoPath := filepath.Join(job.Dir, FinalVideoName)

	err := o.deps.Media.Concat(ctx, clips, filepath.Join(job.Dir, ManifestName), videoPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConcatenation, err)
	}

	info, err := os.Stat(videoPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFinalVideoMissing, videoPath)
	}

	return videoPath, nil
}

// cleanup removes everything but the final video and the presenter copy.
func (o *Orchestrator) cleanup(ctx context.Context, job Job, clips []string) {
	removeQuietly(o.log, clips...)
	removeQuietly(o.log, filepath.Join(job.Dir, ManifestName))
	removeTreeQuietly(o.log, job.FaceWorkDir())
	removeTreeQuietly(o.log, job.SpeechDir())

	if o.deps.Reclaimer != nil {
		err := o.deps.Reclaimer.Reclaim(ctx)
		if err != nil {
			o.log.Warn("Job %s: memory reclaim failed: %v", job.ID, err)
		}
	}
}

func (o *Orchestrator) fail(jobID string, err error) core.JobResult {
	o.log.Error("Job %s failed: %v", jobID, err)

	return core.JobResult{OK: false, VideoPath: "", Status: err.Error()}
}

// orderSlides sorts by slide number and rejects duplicates, which would otherwise
// overwrite each other's files.
func orderSlides(slides []core.Slide) ([]core.Slide, error) {
	ordered := make([]core.Slide, len(slides))
	copy(ordered, slides)

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	for index := 1; index < len(ordered); index++ {
		if ordered[index].Number == ordered[index-1].Number {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSlide, ordered[index].Number)
		}
	}

	return ordered, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)

	return errA == nil && errB == nil && absA == absB
}
