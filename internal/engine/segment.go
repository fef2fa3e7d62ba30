package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/you-humble/mediascribe/internal/domain"
	"github.com/you-humble/mediascribe/internal/media"
)

// segmentMedia splits the assembled file into fixed-duration audio
// segments. The primary pass segments directly with re-encoding; if it
// fails, the input is first re-encoded into a stable intermediate and
// segmented by stream copy, which recovers from broken timestamps and
// container quirks that defeat direct segmentation.
func (e *Engine) segmentMedia(ctx context.Context, taskID, assembled, workdir string) ([]string, error) {
	segDir := filepath.Join(workdir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}

	segments, primaryErr := e.tc.Segment(ctx, assembled, segDir, media.SegmentOptions{
		Seconds:    e.cfg.SegmentSeconds,
		SampleRate: e.cfg.SampleRate,
		Channels:   1,
	})
	if primaryErr == nil {
		if len(segments) == 0 {
			return nil, domain.ErrNoSegments
		}
		return segments, nil
	}

	slog.Warn("direct segmentation failed, falling back to re-encode",
		slog.String("task_id", taskID),
		slog.String("error", primaryErr.Error()),
	)

	intermediate := filepath.Join(workdir, "intermediate.wav")
	if err := e.tc.Transcode(ctx, assembled, intermediate, e.cfg.SampleRate); err != nil {
		return nil, &domain.SegmentationError{Primary: primaryErr, Fallback: err}
	}

	fallbackDir := filepath.Join(workdir, "segments_fallback")
	if err := os.MkdirAll(fallbackDir, 0o755); err != nil {
		return nil, &domain.SegmentationError{Primary: primaryErr, Fallback: err}
	}

	segments, err := e.tc.Segment(ctx, intermediate, fallbackDir, media.SegmentOptions{
		Seconds:   e.cfg.SegmentSeconds,
		CopyCodec: true,
	})
	if err != nil {
		return nil, &domain.SegmentationError{Primary: primaryErr, Fallback: err}
	}
	if len(segments) == 0 {
		return nil, domain.ErrNoSegments
	}

	slog.Info("fallback segmentation succeeded",
		slog.String("task_id", taskID),
		slog.Int("segments", len(segments)),
	)

	return segments, nil
}
