package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/you-humble/mediascribe/internal/domain"
)

// publish merges the per-segment transcripts in index order, uploads the
// result and flips the task to completed.
func (e *Engine) publish(ctx context.Context, taskID string, texts []string) error {
	merged := mergeTranscripts(texts)
	if merged == "" {
		return domain.ErrEmptyTranscript
	}

	objectName := "result/" + taskID + ".txt"
	url, err := e.blob.Upload(ctx, objectName, strings.NewReader(merged), int64(len(merged)), "text/plain; charset=utf-8")
	if err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}

	if err := e.store.SetResult(ctx, taskID, url); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	return nil
}

// mergeTranscripts joins segment texts strictly in index order.
// Completion order is nondeterministic under concurrency and must never
// show in the output.
func mergeTranscripts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n\n")
}

// cleanup deletes the processed chunk objects and rows plus the
// resumption state. Failures are logged and swallowed: a completed task
// stays completed.
func (e *Engine) cleanup(ctx context.Context, taskID string, chunks []domain.Chunk) {
	for _, c := range chunks {
		if err := e.blob.Delete(ctx, c.MediaRef); err != nil {
			slog.Warn("delete chunk object",
				slog.String("task_id", taskID),
				slog.String("media_ref", c.MediaRef),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.store.DeleteChunks(ctx, taskID); err != nil {
		slog.Warn("delete chunk rows", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
	if err := e.store.DeleteSegmentTexts(ctx, taskID); err != nil {
		slog.Warn("delete segment texts", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}
