package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/you-humble/mediascribe/internal/domain"
	"github.com/you-humble/mediascribe/internal/speech"

	"golang.org/x/sync/errgroup"
)

// progressMark serializes progress writes so a lower count can never
// overwrite a higher one after concurrent workers race to persist.
type progressMark struct {
	mu      sync.Mutex
	highest int
}

// transcribeAll runs bounded-concurrency transcription over the ordered
// segment files and returns the texts indexed to match input order.
// Workers claim indices through a shared atomic cursor; each index is
// written by exactly one worker, which is what makes the shared result
// slice safe.
func (e *Engine) transcribeAll(ctx context.Context, task domain.Task, segments []string) ([]string, error) {
	n := len(segments)
	results := make([]string, n)
	skip := make([]bool, n)

	resumed := e.restoreProgress(ctx, task, n, results, skip)
	if resumed > 0 {
		slog.Info("resuming from persisted progress",
			slog.String("task_id", task.ID),
			slog.String("progress", domain.FormatProgress(resumed, n)),
		)
	}

	var completed atomic.Int64
	completed.Store(int64(resumed))
	mark := &progressMark{highest: resumed}

	var cursor atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	for range min(e.cfg.Concurrency, n) {
		eg.Go(func() error {
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= n {
					return nil
				}
				if skip[idx] {
					continue
				}
				if err := egCtx.Err(); err != nil {
					return err
				}

				text, err := e.transcribeSegment(egCtx, task, segments[idx])
				if err != nil {
					return &domain.TranscriptionError{Segment: idx, Err: err}
				}

				results[idx] = text
				e.persistProgress(egCtx, task.ID, idx, n, text, int(completed.Add(1)), mark)
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// restoreProgress loads per-segment texts persisted by a previous
// partial run. They are trusted only when both the stored total and the
// task's progress string still match the current segment count.
func (e *Engine) restoreProgress(ctx context.Context, task domain.Task, n int, results []string, skip []bool) int {
	storedTotal, saved, err := e.store.SegmentTexts(ctx, task.ID)
	if err != nil {
		slog.Warn("load persisted segment texts",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(saved) == 0 {
		return 0
	}

	_, progressTotal, ok := domain.ParseProgress(task.Progress)
	if !ok || progressTotal != n || storedTotal != n {
		slog.Warn("persisted progress does not match current segmentation, restarting",
			slog.String("task_id", task.ID),
			slog.String("progress", task.Progress),
			slog.Int("stored_total", storedTotal),
			slog.Int("segments", n),
		)
		return 0
	}

	resumed := 0
	for idx, text := range saved {
		if idx < 0 || idx >= n {
			continue
		}
		results[idx] = text
		skip[idx] = true
		resumed++
	}
	return resumed
}

func (e *Engine) transcribeSegment(ctx context.Context, task domain.Task, segmentPath string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.cfg.SpeechTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.SpeechTimeout)
		}

		text, err := e.stt.Transcribe(callCtx, speech.Request{
			FilePath: segmentPath,
			Language: task.Language,
		})
		cancel()

		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < e.cfg.MaxAttempts {
			slog.Warn("transcription attempt failed, retrying",
				slog.String("task_id", task.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
	}

	return "", lastErr
}

// persistProgress stores the segment text and the progress string.
// Best-effort: persistence failures are logged, never fatal. The
// progress write is skipped when a higher count was already persisted.
func (e *Engine) persistProgress(ctx context.Context, taskID string, idx, total int, text string, completed int, mark *progressMark) {
	if err := e.store.SaveSegmentText(ctx, taskID, idx, total, text); err != nil {
		slog.Warn("persist segment text",
			slog.String("task_id", taskID),
			slog.Int("segment", idx),
			slog.String("error", err.Error()),
		)
	}

	mark.mu.Lock()
	defer mark.mu.Unlock()
	if completed <= mark.highest {
		return
	}
	mark.highest = completed

	if err := e.store.SetProgress(ctx, taskID, domain.FormatProgress(completed, total)); err != nil {
		slog.Warn("persist progress",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
