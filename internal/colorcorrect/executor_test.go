package colorcorrect

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/vision"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/testsupport"
)

type fakeAnalyzer struct {
	adjustments task.Adjustments
	err         error
	calls       int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req vision.AnalyzeRequest) (task.Adjustments, error) {
	f.calls++
	if f.err != nil {
		return task.Adjustments{}, f.err
	}
	return f.adjustments, nil
}

func (f *fakeAnalyzer) HealthCheck(ctx context.Context) error { return f.err }

func TestRunCorrectsAllPhotos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	front := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "101-front.jpg")
	back := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "101-back.jpg")

	analyzer := &fakeAnalyzer{adjustments: task.Adjustments{Brightness: 1.05, Contrast: 1.1}}
	executor := New(cfg, analyzer, nil)

	tk := &task.Task{
		ID:       1,
		SKU:      "NIKE-USA-101",
		Metadata: task.Metadata{ProductName: "Air Max 90", PhotoURLs: []string{front, back}},
	}
	tk.SetStatus(task.StatusUploaded)

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.AllSucceeded() || result.Processed != 2 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(tk.ColorAnalysis) != 2 {
		t.Fatalf("expected 2 analysis entries, got %d", len(tk.ColorAnalysis))
	}
	for i, entry := range tk.ColorAnalysis {
		// Photo indexes are 1-based: the first photo is photo_index 1.
		if entry.PhotoIndex != i+1 {
			t.Fatalf("entry %d recorded photo_index %d, want %d", i, entry.PhotoIndex, i+1)
		}
		if entry.Status != task.PhotoCompleted {
			t.Fatalf("entry %d not completed: %#v", i, entry)
		}
		if entry.Adjustments.Brightness != 1.05 {
			t.Fatalf("entry %d missing adjustments: %#v", i, entry)
		}
		if _, err := os.Stat(entry.CorrectedPath); err != nil {
			t.Fatalf("corrected artifact missing for entry %d: %v", i, err)
		}
	}
}

func TestRunSkipsAlreadyCorrectedPhotos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	front := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "102-front.jpg")
	back := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "102-back.jpg")

	analyzer := &fakeAnalyzer{adjustments: task.Adjustments{Brightness: 1.05}}
	executor := New(cfg, analyzer, nil)

	tk := &task.Task{
		ID:       2,
		SKU:      "NIKE-USA-102",
		Metadata: task.Metadata{ProductName: "Air Max 95", PhotoURLs: []string{front, back}},
	}
	tk.SetStatus(task.StatusUploaded)

	if _, err := executor.Run(context.Background(), tk); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstCalls := analyzer.calls

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Skipped != 2 || result.Processed != 0 {
		t.Fatalf("expected both photos skipped, got %#v", result)
	}
	if analyzer.calls != firstCalls {
		t.Fatalf("analyzer re-invoked for completed photos: %d -> %d", firstCalls, analyzer.calls)
	}
}

func TestRunRecordsFailedPhotos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	front := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "103-front.jpg")

	analysisErr := services.Wrap(services.ErrTransient, "color_correction", "analyze", "endpoint down", nil)
	analyzer := &fakeAnalyzer{err: analysisErr}
	executor := New(cfg, analyzer, nil)

	tk := &task.Task{
		ID:       3,
		SKU:      "NIKE-USA-103",
		Metadata: task.Metadata{ProductName: "Pegasus", PhotoURLs: []string{front}},
	}
	tk.SetStatus(task.StatusUploaded)

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AllSucceeded() || result.Failed != 1 {
		t.Fatalf("expected one failed photo, got %#v", result)
	}
	if !errors.Is(result.FirstError, services.ErrTransient) {
		t.Fatalf("expected transient first error, got %v", result.FirstError)
	}
	if tk.ColorAnalysis[0].Status != task.PhotoFailed || tk.ColorAnalysis[0].Error == "" {
		t.Fatalf("failure not recorded: %#v", tk.ColorAnalysis[0])
	}
}

func TestRunFallsBackToDefaultsOnRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	front := testsupport.WritePhoto(t, cfg.Paths.PhotoDir, "104-front.jpg")

	analysisErr := services.Wrap(services.ErrTransient, "color_correction", "analyze", "endpoint down", nil)
	analyzer := &fakeAnalyzer{err: analysisErr}
	executor := New(cfg, analyzer, nil)

	tk := &task.Task{
		ID:       4,
		SKU:      "NIKE-USA-104",
		Metadata: task.Metadata{ProductName: "Vaporfly", PhotoURLs: []string{front}},
		Retry:    task.RetryMetadata{Count: 1, LastError: "transient: endpoint down"},
	}
	tk.SetStatus(task.StatusUploaded)

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.AllSucceeded() {
		t.Fatalf("expected fallback success on retry, got %#v", result)
	}
	entry := tk.ColorAnalysis[0]
	if entry.Status != task.PhotoCompleted {
		t.Fatalf("expected completed entry, got %#v", entry)
	}
	if entry.Adjustments != defaultRetryAdjustments {
		t.Fatalf("expected default retry adjustments, got %#v", entry.Adjustments)
	}
}

func TestRunRejectsEmptyPhotoSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	executor := New(cfg, &fakeAnalyzer{}, nil)

	tk := &task.Task{ID: 5, SKU: "NIKE-USA-105"}
	tk.SetStatus(task.StatusUploaded)

	_, err := executor.Run(context.Background(), tk)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty photo set, got %v", err)
	}
}

func TestCorrectedPathFor(t *testing.T) {
	got := CorrectedPathFor("/photos/101-front.jpg")
	want := "/photos/101-front_color_corrected.jpg"
	if got != want {
		t.Fatalf("CorrectedPathFor = %q, want %q", got, want)
	}
	if got := CorrectedPathFor("/photos/x.png"); got != "/photos/x_color_corrected.jpg" {
		t.Fatalf("png source = %q", got)
	}
}
