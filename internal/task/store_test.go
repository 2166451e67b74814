package task_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/testsupport"
)

func TestInsertAndFetch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-101", "/photos/101-front.jpg")
	if seeded.ID == 0 {
		t.Fatal("expected task ID to be assigned")
	}
	if seeded.Status != task.StatusUploaded {
		t.Fatalf("expected UPLOADED status, got %s", seeded.Status)
	}
	if seeded.WorkflowStep != 1 {
		t.Fatalf("expected workflow step 1, got %d", seeded.WorkflowStep)
	}

	fetched, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.SKU != "NIKE-USA-101" {
		t.Fatalf("unexpected fetched task: %#v", fetched)
	}
	if len(fetched.Metadata.PhotoURLs) != 1 {
		t.Fatalf("expected 1 photo URL, got %d", len(fetched.Metadata.PhotoURLs))
	}
	if len(fetched.AgentLog) != 1 || fetched.AgentLog[0].Action != task.ActionTaskCreated {
		t.Fatalf("unexpected agent log: %#v", fetched.AgentLog)
	}

	found, err := store.FindBySKU(ctx, "NIKE-USA-101")
	if err != nil {
		t.Fatalf("FindBySKU failed: %v", err)
	}
	if found == nil || found.ID != seeded.ID {
		t.Fatalf("expected to find inserted task, got %#v", found)
	}

	missing, err := store.GetByID(ctx, seeded.ID+999)
	if err != nil {
		t.Fatalf("GetByID for missing id failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing task, got %#v", missing)
	}
}

func TestInsertRejectsDuplicateSKU(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedTask(t, store, "NIKE-USA-101", "/photos/a.jpg")

	dup := &task.Task{SKU: "NIKE-USA-101"}
	dup.SetStatus(task.StatusUploaded)
	err := store.Insert(context.Background(), dup)
	if !errors.Is(err, task.ErrDuplicateSKU) {
		t.Fatalf("expected ErrDuplicateSKU, got %v", err)
	}
}

func TestCommitTransitionExactlyOneWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-102", "/photos/102.jpg")

	first, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	second, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	first.SetStatus(task.StatusColorCorrected)
	first.MergeColorAnalysis([]task.PhotoAnalysis{{
		PhotoIndex:    1,
		SourcePath:    "/photos/102.jpg",
		CorrectedPath: "/photos/102_color_corrected.jpg",
		Status:        task.PhotoCompleted,
		Adjustments:   task.Adjustments{Brightness: 1.05, Contrast: 1.1},
	}})
	if err := store.CommitTransition(ctx, first, task.StatusUploaded); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	second.SetStatus(task.StatusColorCorrected)
	err = store.CommitTransition(ctx, second, task.StatusUploaded)
	if !errors.Is(err, task.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for losing writer, got %v", err)
	}

	final, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != task.StatusColorCorrected {
		t.Fatalf("expected COLOR_CORRECTED, got %s", final.Status)
	}
	if final.WorkflowStep != 2 {
		t.Fatalf("expected workflow step 2, got %d", final.WorkflowStep)
	}
	if len(final.ColorAnalysis) != 1 || final.ColorAnalysis[0].CorrectedPath != "/photos/102_color_corrected.jpg" {
		t.Fatalf("winning writer's analysis missing: %#v", final.ColorAnalysis)
	}
}

func TestCommitTransitionConcurrentWriters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-110", "/photos/110.jpg")

	const writers = 8
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			snapshot, err := store.GetByID(ctx, seeded.ID)
			if err != nil {
				t.Errorf("worker %d: GetByID failed: %v", worker, err)
				return
			}
			snapshot.SetStatus(task.StatusColorCorrected)
			snapshot.MergeColorAnalysis([]task.PhotoAnalysis{{
				PhotoIndex:    1,
				CorrectedPath: fmt.Sprintf("/photos/110_worker_%d.jpg", worker),
				Status:        task.PhotoCompleted,
			}})
			err = store.CommitTransition(ctx, snapshot, task.StatusUploaded)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, task.ErrStatusConflict):
				conflicts.Add(1)
			default:
				t.Errorf("worker %d: unexpected commit error: %v", worker, err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning commit, got %d (conflicts %d)", wins.Load(), conflicts.Load())
	}
	if conflicts.Load() != writers-1 {
		t.Fatalf("expected %d conflicts, got %d", writers-1, conflicts.Load())
	}

	events, err := store.Changes(ctx, 0, 50)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	// One change from the insert, one from the single winning transition.
	if len(events) != 2 {
		t.Fatalf("expected 2 change events, got %d: %#v", len(events), events)
	}
}

func TestStatusNeverRegressesUnderRandomInterleaving(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-111", "/photos/111.jpg")

	next := map[task.Status]task.Status{
		task.StatusUploaded:       task.StatusColorCorrected,
		task.StatusColorCorrected: task.StatusPublished,
	}

	// Writers race transitions from whatever snapshot they happen to load,
	// including deliberately stale ones. The conditional commit is the only
	// thing keeping order.
	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for attempt := 0; attempt < 10; attempt++ {
				snapshot, err := store.GetByID(ctx, seeded.ID)
				if err != nil {
					t.Errorf("GetByID failed: %v", err)
					return
				}
				target, ok := next[snapshot.Status]
				if !ok {
					return
				}
				if rng.Intn(2) == 0 {
					time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
				}
				expected := snapshot.Status
				snapshot.SetStatus(target)
				err = store.CommitTransition(ctx, snapshot, expected)
				if err != nil && !errors.Is(err, task.ErrStatusConflict) {
					t.Errorf("unexpected commit error: %v", err)
					return
				}
			}
		}(int64(i + 1))
	}
	wg.Wait()

	events, err := store.Changes(ctx, 0, 100)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	order := map[task.Status]int{
		task.StatusUploaded:       1,
		task.StatusColorCorrected: 2,
		task.StatusPublished:      3,
	}
	last := 0
	for _, event := range events {
		step := order[event.NewStatus]
		if step <= last {
			t.Fatalf("status regressed in the change feed: %#v", events)
		}
		last = step
	}

	final, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != task.StatusPublished || final.WorkflowStep != 3 {
		t.Fatalf("expected PUBLISHED at step 3, got %s step %d", final.Status, final.WorkflowStep)
	}
}

func TestRecordFailureRefusesStaleSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-112", "/photos/112.jpg")

	loser, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	// A concurrent winner moves the task and persists its results.
	winner, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	winner.SetStatus(task.StatusColorCorrected)
	winner.MergeColorAnalysis([]task.PhotoAnalysis{{
		PhotoIndex:    1,
		CorrectedPath: "/photos/112_color_corrected.jpg",
		Status:        task.PhotoCompleted,
	}})
	winner.AppendLog(task.AgentColorCorrector, task.ActionColorCorrectionCompleted, "corrected 1 photo")
	if err := store.CommitTransition(ctx, winner, task.StatusUploaded); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}

	// The loser's retry bookkeeping, written from its pre-commit snapshot,
	// must not clobber the winner's documents.
	loser.Retry.Count = 1
	loser.Retry.LastError = "transient: late failure"
	loser.AppendLog(task.AgentDispatcher, task.ActionRetryScheduled, "attempt 1 failed")
	err = store.RecordFailure(ctx, loser)
	if !errors.Is(err, task.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for stale snapshot, got %v", err)
	}

	got, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != task.StatusColorCorrected || got.Retry.Count != 0 {
		t.Fatalf("stale snapshot overwrote winner: %#v", got)
	}
	if len(got.ColorAnalysis) != 1 || got.ColorAnalysis[0].CorrectedPath != "/photos/112_color_corrected.jpg" {
		t.Fatalf("winner's analysis lost: %#v", got.ColorAnalysis)
	}
	if _, ok := findLogAction(got, task.ActionColorCorrectionCompleted); !ok {
		t.Fatalf("winner's audit entry lost: %#v", got.AgentLog)
	}
	if _, ok := findLogAction(got, task.ActionRetryScheduled); ok {
		t.Fatalf("loser's audit entry persisted: %#v", got.AgentLog)
	}
}

func findLogAction(t *task.Task, action string) (task.LogEntry, bool) {
	for _, entry := range t.AgentLog {
		if entry.Action == action {
			return entry, true
		}
	}
	return task.LogEntry{}, false
}

func TestChangeFeedOnlyRecordsWinningTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-103", "/photos/103.jpg")

	events, err := store.Changes(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	if len(events) != 1 || events[0].NewStatus != task.StatusUploaded {
		t.Fatalf("expected one UPLOADED change from insert, got %#v", events)
	}

	// Retry bookkeeping must not produce a change event.
	seeded.Retry.Count = 1
	seeded.Retry.LastError = "transient: vision call timed out"
	seeded.AppendLog(task.AgentDispatcher, task.ActionRetryScheduled, "attempt 1 failed")
	if err := store.RecordFailure(ctx, seeded); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	events, err = store.Changes(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("RecordFailure must not emit change events, got %d", len(events))
	}

	seeded.SetStatus(task.StatusColorCorrected)
	if err := store.CommitTransition(ctx, seeded, task.StatusUploaded); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}

	events, err = store.Changes(ctx, events[0].Seq, 10)
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	if len(events) != 1 || events[0].NewStatus != task.StatusColorCorrected {
		t.Fatalf("expected one COLOR_CORRECTED change, got %#v", events)
	}
}

func TestFeedPositionRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_, ok, err := store.LoadFeedPosition(ctx, "dispatcher")
	if err != nil {
		t.Fatalf("LoadFeedPosition failed: %v", err)
	}
	if ok {
		t.Fatal("expected no saved position for fresh consumer")
	}

	if err := store.SaveFeedPosition(ctx, "dispatcher", 42); err != nil {
		t.Fatalf("SaveFeedPosition failed: %v", err)
	}
	if err := store.SaveFeedPosition(ctx, "dispatcher", 77); err != nil {
		t.Fatalf("SaveFeedPosition update failed: %v", err)
	}

	seq, ok, err := store.LoadFeedPosition(ctx, "dispatcher")
	if err != nil {
		t.Fatalf("LoadFeedPosition failed: %v", err)
	}
	if !ok || seq != 77 {
		t.Fatalf("expected saved position 77, got %d ok=%v", seq, ok)
	}
}

func TestAppendPhotoGuardsProcessingTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-104", "/photos/104-front.jpg")

	updated, err := store.AppendPhoto(ctx, seeded.ID, "/photos/104-back.jpg")
	if err != nil {
		t.Fatalf("AppendPhoto failed: %v", err)
	}
	if len(updated.Metadata.PhotoURLs) != 2 {
		t.Fatalf("expected 2 photo URLs, got %d", len(updated.Metadata.PhotoURLs))
	}

	updated.SetStatus(task.StatusColorCorrected)
	if err := store.CommitTransition(ctx, updated, task.StatusUploaded); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}

	if _, err := store.AppendPhoto(ctx, seeded.ID, "/photos/104-side.jpg"); !errors.Is(err, task.ErrTaskInProgress) {
		t.Fatalf("expected ErrTaskInProgress after processing started, got %v", err)
	}
}

func TestResetFailedReturnsTaskToStepStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seeded := testsupport.SeedTask(t, store, "NIKE-USA-105", "/photos/105.jpg")

	// Fail the task during publish (step 2 processing).
	seeded.SetStatus(task.StatusColorCorrected)
	if err := store.CommitTransition(ctx, seeded, task.StatusUploaded); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}
	seeded.Status = task.StatusFailed
	seeded.Retry = task.RetryMetadata{Count: 3, LastError: "permanent: media rejected"}
	if err := store.CommitTransition(ctx, seeded, task.StatusColorCorrected); err != nil {
		t.Fatalf("fail transition failed: %v", err)
	}

	failed, err := store.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Status != task.StatusFailed || failed.WorkflowStep != 2 {
		t.Fatalf("expected FAILED at step 2, got %s step %d", failed.Status, failed.WorkflowStep)
	}

	reset, err := store.ResetFailed(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if reset.Status != task.StatusColorCorrected {
		t.Fatalf("expected reset to COLOR_CORRECTED, got %s", reset.Status)
	}
	if reset.Retry.Count != 0 || reset.Retry.LastError != "" {
		t.Fatalf("expected cleared retry metadata, got %#v", reset.Retry)
	}

	if _, err := store.ResetFailed(ctx, seeded.ID); err == nil {
		t.Fatal("expected error when resetting a non-FAILED task")
	}
}

func TestListAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.SeedTask(t, store, "SKU-A", "/photos/a.jpg")
	testsupport.SeedTask(t, store, "SKU-B", "/photos/b.jpg")

	a.SetStatus(task.StatusColorCorrected)
	if err := store.CommitTransition(ctx, a, task.StatusUploaded); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}

	uploaded, err := store.List(ctx, task.StatusUploaded)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(uploaded) != 1 || uploaded[0].SKU != "SKU-B" {
		t.Fatalf("unexpected uploaded list: %#v", uploaded)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Uploaded != 1 || health.ColorCorrected != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}
