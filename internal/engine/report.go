package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"
)

type diagnostic struct {
	TaskID string    `json:"task_id"`
	Phase  string    `json:"phase"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// report handles a fatal pipeline error: release the claim so a future
// poll cycle can retry the task, then best-effort upload a structured
// diagnostic. A failed upload never masks the original error, which the
// caller still logs.
func (e *Engine) report(ctx context.Context, taskID string, phase domain.Phase, cause error) {
	if err := e.store.Release(ctx, taskID, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("release claim",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now()
	data, err := json.Marshal(diagnostic{
		TaskID: taskID,
		Phase:  string(phase),
		Error:  cause.Error(),
		At:     now,
	})
	if err != nil {
		slog.Warn("marshal diagnostic", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return
	}

	objectName := fmt.Sprintf("errors/%s-%d.json", taskID, now.Unix())
	if _, err := e.blob.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		slog.Warn("upload diagnostic",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
