package engine

import (
	"context"
	"io"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"
	"github.com/you-humble/mediascribe/internal/media"
	"github.com/you-humble/mediascribe/internal/speech"

	"github.com/nats-io/nats.go"
)

// TaskStore is the slice of the shared task store the engine needs. The
// claim sentinel must only ever be mutated through TryClaim/Release and
// SetResult; the store guarantees their atomicity.
type TaskStore interface {
	Task(ctx context.Context, id string) (domain.Task, error)
	Chunks(ctx context.Context, taskID string) ([]domain.Chunk, error)
	PendingTaskIDs(ctx context.Context) ([]string, error)

	TryClaim(ctx context.Context, id, sentinel, processingID string, lease time.Duration) (bool, error)
	Release(ctx context.Context, id string, status domain.TaskStatus, reason string) error

	SetStatus(ctx context.Context, id string, status domain.TaskStatus) error
	SetProgress(ctx context.Context, id string, progress string) error
	SetResult(ctx context.Context, id string, resultURL string) error

	SaveSegmentText(ctx context.Context, id string, index, total int, text string) error
	SegmentTexts(ctx context.Context, id string) (int, map[int]string, error)
	DeleteSegmentTexts(ctx context.Context, id string) error
	DeleteChunks(ctx context.Context, id string) error
}

type BlobStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	Download(ctx context.Context, objectName, destPath string) error
	Delete(ctx context.Context, objectName string) error
}

type Transcoder interface {
	HasAudioStream(ctx context.Context, path string) (bool, error)
	Concat(ctx context.Context, inputs []string, outPath string, sampleRate int) error
	Transcode(ctx context.Context, inputPath, outPath string, sampleRate int) error
	Segment(ctx context.Context, inputPath, outDir string, opts media.SegmentOptions) ([]string, error)
}

type SpeechClient interface {
	Transcribe(ctx context.Context, req speech.Request) (string, error)
}

type Config struct {
	WorkerID string
	BaseDir  string

	Subject  string
	PoolSize int

	PollInterval time.Duration
	ClaimLease   time.Duration

	Concurrency    int
	SegmentSeconds int
	SampleRate     int
	MaxAttempts    int

	DownloadTimeout time.Duration
	SpeechTimeout   time.Duration
}

// Engine is the transcription task processing core: a dual-triggered,
// claim-based job runner.
type Engine struct {
	cfg Config

	js    nats.JetStreamContext
	store TaskStore
	blob  BlobStore
	tc    Transcoder
	stt   SpeechClient

	done chan struct{}
	sub  *nats.Subscription
}

func New(
	cfg Config,
	js nats.JetStreamContext,
	store TaskStore,
	blob BlobStore,
	tc Transcoder,
	stt SpeechClient,
) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 60
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	return &Engine{
		cfg:   cfg,
		js:    js,
		store: store,
		blob:  blob,
		tc:    tc,
		stt:   stt,
		done:  make(chan struct{}, cfg.PoolSize+1),
	}
}
