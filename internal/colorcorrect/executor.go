package colorcorrect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/vision"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/step"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

const (
	correctedSuffix = "_color_corrected.jpg"
	jpegQuality     = 95
)

// Retry attempts fall back to these conservative multipliers when the vision
// call keeps failing, so a flaky analysis endpoint cannot strand a task.
var defaultRetryAdjustments = task.Adjustments{
	Brightness: 1.05,
	Contrast:   1.1,
	Saturation: 1.15,
	Sharpness:  1.2,
}

// Analyzer proposes adjustment multipliers for one photo.
type Analyzer interface {
	Analyze(ctx context.Context, req vision.AnalyzeRequest) (task.Adjustments, error)
	HealthCheck(ctx context.Context) error
}

// Executor runs the color correction step: analyze each photo, apply the
// adjustments, and write the corrected artifact next to the source.
type Executor struct {
	cfg      *config.Config
	analyzer Analyzer
	logger   *slog.Logger
}

// New constructs the color correction executor.
func New(cfg *config.Config, analyzer Analyzer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		analyzer: analyzer,
		logger:   logger.With(logging.String(logging.FieldComponent, "color_corrector")),
	}
}

// Name identifies the step in logs and the audit trail.
func (e *Executor) Name() string { return task.AgentColorCorrector }

// FromStatus is the status this step consumes.
func (e *Executor) FromStatus() task.Status { return task.StatusUploaded }

// ToStatus is the status a fully successful run transitions to.
func (e *Executor) ToStatus() task.Status { return task.StatusColorCorrected }

// Run corrects every pending photo on the task. Photos whose prior attempt
// already produced a corrected artifact are skipped, so re-running after a
// partial failure only redoes the failed ones.
func (e *Executor) Run(ctx context.Context, t *task.Task) (step.Result, error) {
	var result step.Result
	if len(t.Metadata.PhotoURLs) == 0 {
		return result, services.Wrap(
			services.ErrValidation, "color_correction", "run",
			fmt.Sprintf("task %d has no photos to correct", t.ID), nil)
	}

	for position, photoURL := range t.Metadata.PhotoURLs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		photoIndex := position + 1

		sourcePath := e.resolvePath(photoURL)
		if prior, ok := findAnalysis(t, photoIndex); ok && prior.Status == task.PhotoCompleted {
			if _, err := os.Stat(prior.CorrectedPath); err == nil {
				result.Skipped++
				continue
			}
		}

		entry, err := e.correctPhoto(ctx, t, photoIndex, sourcePath)
		t.MergeColorAnalysis([]task.PhotoAnalysis{entry})
		if err != nil {
			result.Failed++
			if result.FirstError == nil {
				result.FirstError = err
			}
			e.logger.Warn("photo correction failed",
				logging.Int64(logging.FieldTaskID, t.ID),
				logging.Int(logging.FieldPhotoIndex, photoIndex),
				logging.Error(err))
			continue
		}
		result.Processed++
		e.logger.Info("photo corrected",
			logging.Int64(logging.FieldTaskID, t.ID),
			logging.Int(logging.FieldPhotoIndex, photoIndex),
			logging.String("corrected_path", entry.CorrectedPath))
	}

	return result, nil
}

func (e *Executor) correctPhoto(ctx context.Context, t *task.Task, photoIndex int, sourcePath string) (task.PhotoAnalysis, error) {
	entry := task.PhotoAnalysis{
		PhotoIndex: photoIndex,
		SourcePath: sourcePath,
		Status:     task.PhotoFailed,
	}

	adjustments, err := e.analyzer.Analyze(ctx, vision.AnalyzeRequest{
		SKU:         t.SKU,
		ProductName: t.Metadata.ProductName,
		PhotoIndex:  photoIndex,
		SourcePath:  sourcePath,
	})
	if err != nil {
		if t.Retry.Count == 0 || !services.IsRetryable(err) {
			entry.Error = err.Error()
			return entry, err
		}
		// Analysis keeps failing; correct with the defaults instead of
		// failing the task again.
		adjustments = defaultRetryAdjustments
		e.logger.Warn("vision analysis failed, using default adjustments",
			logging.Int64(logging.FieldTaskID, t.ID),
			logging.Int(logging.FieldPhotoIndex, photoIndex),
			logging.Error(err))
	}
	if adjustmentsEmpty(adjustments) {
		adjustments = defaultRetryAdjustments
	}
	entry.Adjustments = adjustments

	correctedPath, err := e.applyAdjustments(sourcePath, adjustments)
	if err != nil {
		entry.Error = err.Error()
		return entry, err
	}

	entry.CorrectedPath = correctedPath
	entry.Status = task.PhotoCompleted
	entry.Error = ""
	return entry, nil
}

func (e *Executor) applyAdjustments(sourcePath string, adjustments task.Adjustments) (string, error) {
	img, err := imaging.Open(sourcePath)
	if err != nil {
		return "", services.Wrap(
			services.ErrValidation, "color_correction", "open photo",
			fmt.Sprintf("cannot open source photo %s", sourcePath), err)
	}

	if adjustments.Brightness != 0 && adjustments.Brightness != 1 {
		img = imaging.AdjustBrightness(img, (adjustments.Brightness-1)*100)
	}
	if adjustments.Contrast != 0 && adjustments.Contrast != 1 {
		img = imaging.AdjustContrast(img, (adjustments.Contrast-1)*100)
	}
	if adjustments.Saturation != 0 && adjustments.Saturation != 1 {
		img = imaging.AdjustSaturation(img, (adjustments.Saturation-1)*100)
	}
	if adjustments.Sharpness > 1 {
		img = imaging.Sharpen(img, (adjustments.Sharpness-1)*2)
	}

	correctedPath := CorrectedPathFor(sourcePath)
	if err := imaging.Save(img, correctedPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", services.Wrap(
			services.ErrTransient, "color_correction", "save photo",
			fmt.Sprintf("cannot write corrected photo %s", correctedPath), err)
	}
	return correctedPath, nil
}

// HealthCheck probes the vision endpoint.
func (e *Executor) HealthCheck(ctx context.Context) step.Health {
	if err := e.analyzer.HealthCheck(ctx); err != nil {
		return step.Unhealthy(e.Name(), err.Error())
	}
	return step.Healthy(e.Name())
}

func (e *Executor) resolvePath(photoURL string) string {
	if filepath.IsAbs(photoURL) {
		return photoURL
	}
	return filepath.Join(e.cfg.Paths.PhotoDir, photoURL)
}

// CorrectedPathFor derives the corrected artifact path from a source photo.
func CorrectedPathFor(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + correctedSuffix
}

func findAnalysis(t *task.Task, photoIndex int) (task.PhotoAnalysis, bool) {
	for _, entry := range t.ColorAnalysis {
		if entry.PhotoIndex == photoIndex {
			return entry, true
		}
	}
	return task.PhotoAnalysis{}, false
}

func adjustmentsEmpty(a task.Adjustments) bool {
	return a.Brightness == 0 && a.Contrast == 0 && a.Saturation == 0 && a.Sharpness == 0
}
