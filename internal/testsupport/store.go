package testsupport

import (
	"context"
	"testing"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// MustOpenStore opens a task store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *task.Store {
	t.Helper()

	store, err := task.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// SeedTask inserts a task with the given SKU and photo URLs.
func SeedTask(t testing.TB, store *task.Store, sku string, photoURLs ...string) *task.Task {
	t.Helper()

	tk := &task.Task{
		SKU: sku,
		Metadata: task.Metadata{
			ProductName: "Test Product " + sku,
			PhotoURLs:   photoURLs,
		},
	}
	tk.SetStatus(task.StatusUploaded)
	tk.AppendLog(task.AgentUploader, task.ActionTaskCreated, "created for test")
	if err := store.Insert(context.Background(), tk); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return tk
}
