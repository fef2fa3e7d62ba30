package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SegmentOptions controls one segmentation pass of the external
// transcoder.
type SegmentOptions struct {
	Seconds    int
	SampleRate int
	Channels   int

	// CopyCodec selects stream-copy segmentation instead of re-encoding.
	// Only safe on an already normalized intermediate.
	CopyCodec bool
}

// FFmpeg invokes ffmpeg/ffprobe as subprocesses. Every invocation is
// bounded by the configured timeout.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

func NewFFmpeg(timeout time.Duration) *FFmpeg {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		timeout:     timeout,
	}
}

// HasAudioStream probes the file for at least one audio stream.
func (f *FFmpeg) HasAudioStream(ctx context.Context, path string) (bool, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return strings.Contains(out, "audio"), nil
}

// Concat decodes every input, downmixes to mono at the given sample
// rate and joins them through the concat filter graph. Robust against
// heterogeneous input encodings.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, outPath string, sampleRate int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var filter strings.Builder
	for i := range inputs {
		fmt.Fprintf(&filter, "[%d:a:0]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", len(inputs))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		outPath,
	)

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

// Transcode re-encodes the first audio stream of the input into a mono
// WAV at the given sample rate.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outPath string, sampleRate int) error {
	_, err := f.run(ctx, f.ffmpegPath,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-map", "0:a:0",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		outPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg transcode: %w", err)
	}
	return nil
}

// Segment splits the input into fixed-duration audio segments written
// under outDir and returns their paths in segment order. The first audio
// stream is mapped explicitly so inputs without video do not fail.
func (f *FFmpeg) Segment(ctx context.Context, inputPath, outDir string, opts SegmentOptions) ([]string, error) {
	pattern := filepath.Join(outDir, "seg_%05d.wav")

	args := segmentArgs(inputPath, pattern, opts)
	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return nil, fmt.Errorf("ffmpeg segment: %w", err)
	}

	segments, err := filepath.Glob(filepath.Join(outDir, "seg_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	sort.Strings(segments)

	return segments, nil
}

func segmentArgs(inputPath, pattern string, opts SegmentOptions) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-map", "0:a:0",
	}

	if opts.CopyCodec {
		args = append(args, "-c", "copy")
	} else {
		channels := opts.Channels
		if channels <= 0 {
			channels = 1
		}
		args = append(args,
			"-ac", strconv.Itoa(channels),
			"-ar", strconv.Itoa(opts.SampleRate),
		)
	}

	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(opts.Seconds),
		"-reset_timestamps", "1",
		pattern,
	)
	return args
}

func (f *FFmpeg) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, trimOutput(stderr.String()))
	}
	return stdout.String(), nil
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
