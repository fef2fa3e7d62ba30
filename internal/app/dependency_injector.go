package app

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/you-humble/mediascribe/internal/config"
	"github.com/you-humble/mediascribe/internal/engine"
	blobstore "github.com/you-humble/mediascribe/internal/infra/store/blob"
	taskstore "github.com/you-humble/mediascribe/internal/infra/store/task"
	mio "github.com/you-humble/mediascribe/internal/libs/minio"
	natsq "github.com/you-humble/mediascribe/internal/libs/nats"
	rediscli "github.com/you-humble/mediascribe/internal/libs/redis"
	"github.com/you-humble/mediascribe/internal/media"
	"github.com/you-humble/mediascribe/internal/speech"

	"github.com/google/uuid"
)

type dependencyInjector struct {
	cfgPath string

	cfg    *config.Config
	logger *slog.Logger

	redis     *redis.Client
	taskStore engine.TaskStore
	blobStore engine.BlobStore

	transcoder *media.FFmpeg
	speech     *speech.Client

	natsConn *nats.Conn
	js       nats.JetStreamContext

	engine *engine.Engine
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(
			slog.NewTextHandler(
				os.Stdout,
				&slog.HandlerOptions{
					Level: slog.LevelInfo,
				},
			),
		)
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("redis connect: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) TaskStore(ctx context.Context) engine.TaskStore {
	if di.taskStore == nil {
		di.taskStore = taskstore.NewRedisTaskStore(di.RedisClient(ctx))
	}
	return di.taskStore
}

func (di *dependencyInjector) BlobStore(ctx context.Context) engine.BlobStore {
	if di.blobStore == nil {
		cfg := di.Config().MinIO

		store, err := blobstore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
		})
		if err != nil {
			log.Fatalf("blob store minio: %+v", err)
		}

		di.blobStore = store
		di.Logger().Info(
			"initialized MinIO blob store",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("bucket", cfg.Bucket),
		)
	}

	return di.blobStore
}

func (di *dependencyInjector) Transcoder(ctx context.Context) *media.FFmpeg {
	if di.transcoder == nil {
		di.transcoder = media.NewFFmpeg(di.Config().TranscodeTimeout)
	}
	return di.transcoder
}

func (di *dependencyInjector) SpeechClient(ctx context.Context) *speech.Client {
	if di.speech == nil {
		cfg := di.Config().Speech
		di.speech = speech.NewClient(speech.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	}
	return di.speech
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config()
		nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
			Name:          cfg.NATS.QueueName,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:     "TRANSCRIPTION",
			Subjects: []string{di.Config().NATS.Subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Engine(ctx context.Context) *engine.Engine {
	if di.engine == nil {
		cfg := di.Config()

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		workerID := hostname + "-" + uuid.NewString()[:8]

		di.engine = engine.New(
			engine.Config{
				WorkerID:        workerID,
				BaseDir:         cfg.BaseDir,
				Subject:         cfg.NATS.Subject,
				PoolSize:        cfg.PoolSize,
				PollInterval:    cfg.PollInterval,
				ClaimLease:      cfg.ClaimLease,
				Concurrency:     cfg.Concurrency,
				SegmentSeconds:  cfg.SegmentSeconds,
				SampleRate:      cfg.SampleRate,
				MaxAttempts:     cfg.MaxAttempts,
				DownloadTimeout: cfg.DownloadTimeout,
				SpeechTimeout:   cfg.Speech.Timeout,
			},
			di.JetStream(ctx),
			di.TaskStore(ctx),
			di.BlobStore(ctx),
			di.Transcoder(ctx),
			di.SpeechClient(ctx),
		)
	}
	return di.engine
}
