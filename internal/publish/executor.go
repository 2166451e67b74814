package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/wordpress"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/step"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// Uploader pushes one corrected photo into the media library.
type Uploader interface {
	Upload(ctx context.Context, req wordpress.UploadRequest) (wordpress.Media, error)
	HealthCheck(ctx context.Context) error
}

// Executor runs the publish step: upload every corrected photo to the
// storefront media library.
type Executor struct {
	cfg      *config.Config
	uploader Uploader
	logger   *slog.Logger
}

// New constructs the publish executor.
func New(cfg *config.Config, uploader Uploader, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger.With(logging.String(logging.FieldComponent, "publisher")),
	}
}

// Name identifies the step in logs and the audit trail.
func (e *Executor) Name() string { return task.AgentPublisher }

// FromStatus is the status this step consumes.
func (e *Executor) FromStatus() task.Status { return task.StatusColorCorrected }

// ToStatus is the status a fully successful run transitions to.
func (e *Executor) ToStatus() task.Status { return task.StatusPublished }

// Run uploads every corrected photo that has not been published yet. Photos
// that already carry a media id are skipped, so a partial failure never
// re-uploads what the storefront already has.
func (e *Executor) Run(ctx context.Context, t *task.Task) (step.Result, error) {
	var result step.Result
	if len(t.ColorAnalysis) == 0 {
		return result, services.Wrap(
			services.ErrValidation, "publish", "run",
			fmt.Sprintf("task %d has no corrected photos to publish", t.ID), nil)
	}

	for _, analysis := range t.ColorAnalysis {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if analysis.Status != task.PhotoCompleted || analysis.CorrectedPath == "" {
			result.Failed++
			entry := task.PhotoPublish{
				PhotoIndex: analysis.PhotoIndex,
				Status:     task.PhotoFailed,
				Error:      "photo was not color corrected",
			}
			t.MergePublishResults([]task.PhotoPublish{entry})
			if result.FirstError == nil {
				result.FirstError = services.Wrap(
					services.ErrValidation, "publish", "run",
					fmt.Sprintf("photo %d has no corrected artifact", analysis.PhotoIndex), nil)
			}
			continue
		}

		if prior, ok := findPublish(t, analysis.PhotoIndex); ok && prior.Status == task.PhotoPublished && prior.MediaID != 0 {
			result.Skipped++
			continue
		}

		entry, err := e.publishPhoto(ctx, t, analysis)
		t.MergePublishResults([]task.PhotoPublish{entry})
		if err != nil {
			result.Failed++
			if result.FirstError == nil {
				result.FirstError = err
			}
			e.logger.Warn("photo publish failed",
				logging.Int64(logging.FieldTaskID, t.ID),
				logging.Int(logging.FieldPhotoIndex, analysis.PhotoIndex),
				logging.Error(err))
			continue
		}
		result.Processed++
		e.logger.Info("photo published",
			logging.Int64(logging.FieldTaskID, t.ID),
			logging.Int(logging.FieldPhotoIndex, analysis.PhotoIndex),
			logging.Int64("media_id", entry.MediaID))
	}

	return result, nil
}

func (e *Executor) publishPhoto(ctx context.Context, t *task.Task, analysis task.PhotoAnalysis) (task.PhotoPublish, error) {
	entry := task.PhotoPublish{
		PhotoIndex: analysis.PhotoIndex,
		Status:     task.PhotoFailed,
	}

	title := t.Metadata.Title
	if title == "" {
		title = t.Metadata.ProductName
	}
	media, err := e.uploader.Upload(ctx, wordpress.UploadRequest{
		FilePath: analysis.CorrectedPath,
		Title:    title,
		AltText:  fmt.Sprintf("%s photo %d", t.Metadata.ProductName, analysis.PhotoIndex),
	})
	if err != nil {
		entry.Error = err.Error()
		return entry, err
	}

	entry.Status = task.PhotoPublished
	entry.MediaID = media.ID
	entry.MediaURL = media.SourceURL
	entry.Error = ""
	return entry, nil
}

// HealthCheck probes the media endpoint with the configured credentials.
func (e *Executor) HealthCheck(ctx context.Context) step.Health {
	if err := e.uploader.HealthCheck(ctx); err != nil {
		return step.Unhealthy(e.Name(), err.Error())
	}
	return step.Healthy(e.Name())
}

func findPublish(t *task.Task, index int) (task.PhotoPublish, bool) {
	for _, entry := range t.PublishResults {
		if entry.PhotoIndex == index {
			return entry, true
		}
	}
	return task.PhotoPublish{}, false
}
