package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services/wordpress"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/testsupport"
)

type fakeUploader struct {
	nextID  int64
	err     error
	uploads []string
}

func (f *fakeUploader) Upload(ctx context.Context, req wordpress.UploadRequest) (wordpress.Media, error) {
	if f.err != nil {
		return wordpress.Media{}, f.err
	}
	f.nextID++
	f.uploads = append(f.uploads, req.FilePath)
	return wordpress.Media{
		ID:        12344 + f.nextID,
		SourceURL: fmt.Sprintf("https://shop.example.com/media/%d.jpg", 12344+f.nextID),
	}, nil
}

func (f *fakeUploader) HealthCheck(ctx context.Context) error { return f.err }

func correctedTask(t *testing.T, id int64, sku string, photos int) *task.Task {
	t.Helper()
	dir := t.TempDir()
	tk := &task.Task{ID: id, SKU: sku, Metadata: task.Metadata{ProductName: "Air Max 90"}}
	tk.SetStatus(task.StatusColorCorrected)
	for i := 1; i <= photos; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%d_color_corrected.jpg", i))
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("write corrected photo: %v", err)
		}
		tk.ColorAnalysis = append(tk.ColorAnalysis, task.PhotoAnalysis{
			PhotoIndex:    i,
			SourcePath:    filepath.Join(dir, fmt.Sprintf("%d.jpg", i)),
			CorrectedPath: path,
			Status:        task.PhotoCompleted,
		})
	}
	return tk
}

func TestRunPublishesAllCorrectedPhotos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	uploader := &fakeUploader{}
	executor := New(cfg, uploader, nil)

	tk := correctedTask(t, 1, "NIKE-USA-101", 2)
	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.AllSucceeded() || result.Processed != 2 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(tk.PublishResults) != 2 {
		t.Fatalf("expected 2 publish entries, got %d", len(tk.PublishResults))
	}
	if tk.PublishResults[0].MediaID != 12345 {
		t.Fatalf("unexpected media id: %d", tk.PublishResults[0].MediaID)
	}
	if tk.PublishResults[0].PhotoIndex != 1 || tk.PublishResults[1].PhotoIndex != 2 {
		t.Fatalf("publish entries must keep 1-based photo indexes: %#v", tk.PublishResults)
	}
}

func TestRunSkipsAlreadyPublishedPhotos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	uploader := &fakeUploader{}
	executor := New(cfg, uploader, nil)

	tk := correctedTask(t, 2, "NIKE-USA-102", 2)
	tk.MergePublishResults([]task.PhotoPublish{{
		PhotoIndex: 1,
		Status:     task.PhotoPublished,
		MediaID:    999,
		MediaURL:   "https://shop.example.com/media/999.jpg",
	}})

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Skipped != 1 || result.Processed != 1 {
		t.Fatalf("expected 1 skip and 1 upload, got %#v", result)
	}
	if len(uploader.uploads) != 1 {
		t.Fatalf("expected single upload, got %v", uploader.uploads)
	}
	// The previously published photo keeps its original media id.
	if entry, _ := findPublish(tk, 1); entry.MediaID != 999 {
		t.Fatalf("published entry overwritten: %#v", entry)
	}
}

func TestRunRecordsUploadFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	uploadErr := services.Wrap(services.ErrContentRejected, "publish", "upload media", "HTTP 406", nil)
	executor := New(cfg, &fakeUploader{err: uploadErr}, nil)

	tk := correctedTask(t, 3, "NIKE-USA-103", 1)
	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected one failure, got %#v", result)
	}
	if !errors.Is(result.FirstError, services.ErrContentRejected) {
		t.Fatalf("expected content-rejected first error, got %v", result.FirstError)
	}
	if tk.PublishResults[0].Status != task.PhotoFailed || tk.PublishResults[0].Error == "" {
		t.Fatalf("failure not recorded: %#v", tk.PublishResults[0])
	}
}

func TestRunRejectsMissingAnalysis(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	executor := New(cfg, &fakeUploader{}, nil)

	tk := &task.Task{ID: 4, SKU: "NIKE-USA-104"}
	tk.SetStatus(task.StatusColorCorrected)

	_, err := executor.Run(context.Background(), tk)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunFlagsUncorrectedEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	executor := New(cfg, &fakeUploader{}, nil)

	tk := &task.Task{ID: 5, SKU: "NIKE-USA-105"}
	tk.SetStatus(task.StatusColorCorrected)
	tk.ColorAnalysis = []task.PhotoAnalysis{{
		PhotoIndex: 1,
		SourcePath: "/p/1.jpg",
		Status:     task.PhotoFailed,
		Error:      "analysis failed",
	}}

	result, err := executor.Run(context.Background(), tk)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Failed != 1 || result.AllSucceeded() {
		t.Fatalf("expected failed entry, got %#v", result)
	}
}
