package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"
	natsq "github.com/you-humble/mediascribe/internal/libs/nats"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	streamName   = "TRANSCRIPTION"
	consumerName = "transcription-workers"
)

// Run starts the two trigger paths: PoolSize event workers pulling task
// insertion notifications from JetStream, and one poller scanning the
// store for unclaimed tasks. Both feed the same claim-and-process
// routine; the claim decides the winner.
func (e *Engine) Run(ctx context.Context) error {
	e.sweepWorkdirs()

	if e.js != nil {
		sub, err := natsq.EnsurePullConsumer(e.js, streamName, e.cfg.Subject, consumerName, e.cfg.PoolSize*2)
		if err != nil {
			return err
		}
		e.sub = sub

		for range e.cfg.PoolSize {
			go func() {
				defer func() { e.done <- struct{}{} }()
				e.runEventWorker(ctx)
			}()
		}
	} else {
		for range e.cfg.PoolSize {
			e.done <- struct{}{}
		}
	}

	go func() {
		defer func() { e.done <- struct{}{} }()
		e.runPoller(ctx)
	}()

	slog.Info("engine running",
		slog.String("worker_id", e.cfg.WorkerID),
		slog.Int("event_workers", e.cfg.PoolSize),
		slog.String("subject", e.cfg.Subject),
		slog.Duration("poll_interval", e.cfg.PollInterval),
	)
	return nil
}

// Stop waits for all trigger goroutines to drain.
func (e *Engine) Stop(ctx context.Context) {
	for range e.cfg.PoolSize + 1 {
		<-e.done
	}

	if e.sub != nil {
		if err := e.sub.Drain(); err != nil {
			slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
		}
	}

	slog.Info("engine stopped")
}

func (e *Engine) runEventWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := e.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			taskID := string(msg.Data)
			slog.Debug("task notification", slog.String("task_id", taskID))

			if requeue := e.handleTask(ctx, taskID, false); requeue {
				if err := msg.Nak(); err != nil {
					slog.Warn("NATS Nak", slog.String("error", err.Error()))
				}
				continue
			}
			if err := msg.Ack(); err != nil {
				slog.Warn("NATS Ack", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) runPoller(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce catches tasks whose insertion notification was missed or
// whose previous worker released the claim, including tasks a fatal
// error flipped to failed. In-flight work is deduplicated by the claim
// itself, not by poller state.
func (e *Engine) pollOnce(ctx context.Context) {
	ids, err := e.store.PendingTaskIDs(ctx)
	if err != nil {
		slog.Warn("poll pending tasks", slog.String("error", err.Error()))
		return
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.handleTask(ctx, id, true)
	}
}

// handleTask is the single claim-and-process routine behind both
// triggers. The poll trigger passes retryFailed to pick failed tasks
// back up; the event trigger drops them, since its notification
// predates the failure. It returns true when the notification should be
// redelivered (transient store failure before any claim was taken).
func (e *Engine) handleTask(ctx context.Context, taskID string, retryFailed bool) (requeue bool) {
	task, err := e.store.Task(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			slog.Warn("task not found", slog.String("task_id", taskID))
			return false
		}
		slog.Error("fetch task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return true
	}

	if task.Status == domain.StatusCompleted {
		return false
	}
	if task.Status == domain.StatusFailed && !retryFailed {
		return false
	}

	chunks, err := e.store.Chunks(ctx, taskID)
	if err != nil {
		slog.Error("fetch chunks", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return true
	}
	if len(chunks) == 0 {
		slog.Debug("task has no chunks yet", slog.String("task_id", taskID))
		return false
	}

	processingID := uuid.NewString()
	sentinel := domain.ClaimSentinel(e.cfg.WorkerID, time.Now())

	claimed, err := e.store.TryClaim(ctx, taskID, sentinel, processingID, e.cfg.ClaimLease)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return false
		}
		slog.Error("claim task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return true
	}
	if !claimed {
		// Another trigger or worker won the race. Normal, not an error.
		slog.Debug("claim lost", slog.String("task_id", taskID))
		return false
	}

	slog.Info("task claimed",
		slog.String("task_id", taskID),
		slog.String("processing_id", processingID),
		slog.Int("chunks", len(chunks)),
	)

	if err := e.process(ctx, task, chunks); err != nil {
		slog.Error("task failed",
			slog.String("task_id", taskID),
			slog.String("processing_id", processingID),
			slog.String("error", err.Error()),
		)
		return false
	}

	slog.Info("task completed", slog.String("task_id", taskID))
	return false
}

// sweepWorkdirs removes working directories left behind by a crashed
// run. Only called before the trigger paths start.
func (e *Engine) sweepWorkdirs() {
	root := filepath.Join(e.cfg.BaseDir, "tasks")
	if err := os.RemoveAll(root); err != nil {
		slog.Warn("sweep workdirs", slog.String("error", err.Error()))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Warn("create workdir root", slog.String("error", err.Error()))
	}
}
