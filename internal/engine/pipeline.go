package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/you-humble/mediascribe/internal/domain"
)

// process runs the full pipeline for a claimed task: assemble the
// chunks, segment, transcribe, publish, clean up. The working directory
// is removed on every exit path; fatal errors release the claim and
// emit a diagnostic before propagating.
func (e *Engine) process(ctx context.Context, task domain.Task, chunks []domain.Chunk) error {
	workdir := filepath.Join(e.cfg.BaseDir, "tasks", task.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		e.report(ctx, task.ID, domain.PhaseDownload, err)
		return err
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			slog.Warn("remove workdir", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
	}()

	e.setStatus(ctx, task.ID, domain.StatusDownloading)

	assembled, err := e.assemble(ctx, task.ID, chunks, workdir)
	if err != nil {
		phase := domain.PhaseAssembly
		var dlErr *domain.DownloadError
		if errors.As(err, &dlErr) {
			phase = domain.PhaseDownload
		}
		e.report(ctx, task.ID, phase, err)
		return err
	}

	segments, err := e.segmentMedia(ctx, task.ID, assembled, workdir)
	if err != nil {
		e.report(ctx, task.ID, domain.PhaseSegmentation, err)
		return err
	}

	e.setStatus(ctx, task.ID, domain.StatusTranscribing)

	texts, err := e.transcribeAll(ctx, task, segments)
	if err != nil {
		e.report(ctx, task.ID, domain.PhaseTranscription, err)
		return err
	}

	e.setStatus(ctx, task.ID, domain.StatusUploading)

	if err := e.publish(ctx, task.ID, texts); err != nil {
		e.report(ctx, task.ID, domain.PhasePublish, err)
		return err
	}

	// Cleanup runs only once the task is completed; its failures never
	// flip the task back.
	e.cleanup(ctx, task.ID, chunks)

	return nil
}

func (e *Engine) setStatus(ctx context.Context, taskID string, status domain.TaskStatus) {
	if err := e.store.SetStatus(ctx, taskID, status); err != nil {
		slog.Warn("set status",
			slog.String("task_id", taskID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
