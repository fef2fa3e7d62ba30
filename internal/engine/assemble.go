package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/you-humble/mediascribe/internal/domain"
)

// Container formats whose chunks a recorder emits as one continuous
// byte stream, so raw file append reproduces a valid file.
var rawConcatExts = map[string]bool{
	".ts":   true,
	".webm": true,
}

// assemble downloads the ordered chunks and produces one local media
// file. Homogeneous raw-concatenable chunks are byte-appended; anything
// else goes through the transcoder's concat filter graph.
func (e *Engine) assemble(ctx context.Context, taskID string, chunks []domain.Chunk, workdir string) (string, error) {
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		local := filepath.Join(workdir, fmt.Sprintf("chunk_%05d%s", i, chunkExt(c.MediaRef)))

		dctx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		err := e.blob.Download(dctx, c.MediaRef, local)
		cancel()
		if err != nil {
			return "", &domain.DownloadError{Index: i, Err: err}
		}

		info, err := os.Stat(local)
		if err != nil {
			return "", &domain.DownloadError{Index: i, Err: err}
		}
		if info.Size() == 0 {
			return "", &domain.DownloadError{Index: i, Err: fmt.Errorf("chunk %q is empty", c.MediaRef)}
		}

		paths[i] = local
	}

	var assembled string
	if ext, ok := rawConcatenable(paths); ok {
		assembled = filepath.Join(workdir, "assembled"+ext)
		if err := binaryConcat(paths, assembled); err != nil {
			return "", fmt.Errorf("binary concat: %w", err)
		}
	} else {
		assembled = filepath.Join(workdir, "assembled.wav")
		tctx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		err := e.tc.Concat(tctx, paths, assembled, e.cfg.SampleRate)
		cancel()
		if err != nil {
			return "", err
		}
	}

	hasAudio, err := e.tc.HasAudioStream(ctx, assembled)
	if err != nil {
		return "", fmt.Errorf("validate assembled media: %w", err)
	}
	if !hasAudio {
		return "", domain.ErrNoAudioStream
	}

	slog.Debug("chunks assembled",
		slog.String("task_id", taskID),
		slog.Int("chunks", len(chunks)),
		slog.String("file", filepath.Base(assembled)),
	)

	return assembled, nil
}

func rawConcatenable(paths []string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(paths[0]))
	if !rawConcatExts[ext] {
		return "", false
	}
	for _, p := range paths[1:] {
		if strings.ToLower(filepath.Ext(p)) != ext {
			return "", false
		}
	}
	return ext, true
}

func binaryConcat(inputs []string, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	for _, in := range inputs {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("open %s: %w", filepath.Base(in), err)
		}
		_, err = io.Copy(out, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("append %s: %w", filepath.Base(in), err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func chunkExt(mediaRef string) string {
	ext := path.Ext(mediaRef)
	if ext == "" {
		return ".bin"
	}
	return ext
}
