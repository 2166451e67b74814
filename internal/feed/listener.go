package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/backoff"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// DefaultConsumer is the feed position key used by the daemon's listener.
const DefaultConsumer = "dispatcher"

const (
	defaultBatchSize = 100
	errorBackoffCap  = 2 * time.Minute
)

// Event is one unit of dispatchable work observed on the change feed.
type Event struct {
	Seq    int64
	TaskID int64
	Status task.Status
}

// Listener tails the task change feed and emits dispatchable work. Its
// position survives restarts through the store; a position that has fallen
// behind pruned history triggers a rescan of every dispatchable task so
// nothing is stranded.
type Listener struct {
	store    *task.Store
	logger   *slog.Logger
	consumer string

	pollInterval  time.Duration
	errorInterval time.Duration

	out chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener constructs a listener over the store's change feed.
func NewListener(cfg *config.Config, store *task.Store, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Listener{
		store:         store,
		logger:        logger.With(logging.String(logging.FieldComponent, "feed")),
		consumer:      DefaultConsumer,
		pollInterval:  time.Duration(cfg.Workflow.FeedPollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		out:           make(chan Event, cfg.Workflow.QueueSize),
	}
}

// Events returns the channel dispatchable work arrives on. The channel is
// closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.out
}

// Start begins tailing the feed in the background.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("feed listener already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.wg.Add(1)
	go l.run(runCtx)
	return nil
}

// Stop terminates the listener and waits for the feed channel to close.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()
	defer close(l.out)

	position, err := l.resumePosition(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.logger.Error("feed listener failed to resume", logging.Error(err))
		return
	}

	pollFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := l.store.Changes(ctx, position, defaultBatchSize)
		if err != nil {
			pollFailures++
			delay := backoff.Delay(pollFailures, l.errorInterval, errorBackoffCap)
			l.logger.Warn("change feed read failed",
				logging.Int("consecutive_failures", pollFailures),
				logging.Duration("retry_in", delay),
				logging.Error(err))
			if !l.sleep(ctx, delay) {
				return
			}
			continue
		}
		pollFailures = 0
		if len(events) == 0 {
			if !l.sleep(ctx, l.pollInterval) {
				return
			}
			continue
		}

		for _, change := range events {
			if change.NewStatus.IsDispatchable() {
				if !l.emit(ctx, Event{Seq: change.Seq, TaskID: change.TaskID, Status: change.NewStatus}) {
					return
				}
			}
			position = change.Seq
			if err := l.store.SaveFeedPosition(ctx, l.consumer, position); err != nil {
				l.logger.Warn("failed to persist feed position",
					logging.Int64("seq", position),
					logging.Error(err))
			}
		}
	}
}

// resumePosition loads the persisted token and validates it against retained
// history. A token pointing past pruned history cannot guarantee nothing was
// missed, so the listener rescans every dispatchable task before tailing.
func (l *Listener) resumePosition(ctx context.Context) (int64, error) {
	position, found, err := l.store.LoadFeedPosition(ctx, l.consumer)
	if err != nil {
		return 0, err
	}

	minSeq, err := l.store.MinChangeSeq(ctx)
	if err != nil {
		return 0, err
	}

	if !found {
		// Fresh consumer: emit existing dispatchable tasks, then tail
		// from the current head.
		return l.rescan(ctx, "no saved feed position")
	}
	if minSeq > position+1 {
		l.logger.Warn("saved feed position is older than retained history, rescanning",
			logging.Int64("saved_seq", position),
			logging.Int64("min_retained_seq", minSeq))
		return l.rescan(ctx, "resume token invalidated")
	}

	// The position is persisted when an event is handed off, not when its
	// dispatch commits, so work queued at shutdown would otherwise be lost.
	// Re-offering every still-dispatchable task covers that gap; tasks whose
	// dispatch did commit have moved on and are not listed. Duplicate offers
	// degrade to no-ops at commit time.
	if err := l.sweepPending(ctx, position); err != nil {
		return 0, err
	}

	l.logger.Info("resuming change feed", logging.Int64("seq", position))
	return position, nil
}

// sweepPending re-offers tasks still in a dispatchable status without moving
// the feed position. Tasks with a change event past the position are skipped;
// the tail delivers those.
func (l *Listener) sweepPending(ctx context.Context, position int64) error {
	pending, err := l.store.List(ctx, task.DispatchableStatuses()...)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	upcoming, err := l.store.ChangedTaskIDs(ctx, position)
	if err != nil {
		return err
	}

	offered := 0
	for _, t := range pending {
		if _, ok := upcoming[t.ID]; ok {
			continue
		}
		if !l.emit(ctx, Event{Seq: position, TaskID: t.ID, Status: t.Status}) {
			return context.Canceled
		}
		offered++
	}
	if offered > 0 {
		l.logger.Info("re-offered dispatchable tasks from before the feed position",
			logging.Int("count", offered))
	}
	return nil
}

func (l *Listener) rescan(ctx context.Context, reason string) (int64, error) {
	head, err := l.store.MaxChangeSeq(ctx)
	if err != nil {
		return 0, err
	}

	pending, err := l.store.List(ctx, task.DispatchableStatuses()...)
	if err != nil {
		return 0, err
	}
	l.logger.Info("rescanning dispatchable tasks",
		logging.String("reason", reason),
		logging.Int("count", len(pending)))

	for _, t := range pending {
		if !l.emit(ctx, Event{Seq: head, TaskID: t.ID, Status: t.Status}) {
			return 0, context.Canceled
		}
	}

	if err := l.store.SaveFeedPosition(ctx, l.consumer, head); err != nil {
		l.logger.Warn("failed to persist feed position after rescan", logging.Error(err))
	}
	return head, nil
}

func (l *Listener) emit(ctx context.Context, event Event) bool {
	select {
	case l.out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
