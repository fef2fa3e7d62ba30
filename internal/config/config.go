package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseDir string `yaml:"base_dir"`

	PoolSize       int `yaml:"pool_size"`
	Concurrency    int `yaml:"concurrency"`
	SegmentSeconds int `yaml:"segment_seconds"`
	SampleRate     int `yaml:"sample_rate"`

	// MaxAttempts bounds speech calls per segment; 1 means no retry.
	MaxAttempts int `yaml:"max_attempts"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// ClaimLease allows reclaiming a task whose claim is older than the
	// lease. Zero disables reclaiming: a crashed worker's task then stays
	// claimed until cleared by hand.
	ClaimLease time.Duration `yaml:"claim_lease"`

	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`

	Speech Speech `yaml:"speech"`
	Redis  Redis  `yaml:"redis"`
	MinIO  MinIO  `yaml:"minio"`
	NATS   NATS   `yaml:"nats"`
}

type Speech struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type NATS struct {
	URL           string `yaml:"url"`
	QueueName     string `yaml:"queue_name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.BaseDir == "" {
		log.Fatalf("config: base_dir is empty")
	}
	if cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}
	if cfg.Speech.BaseURL == "" {
		log.Fatalf("config: speech.base_url is empty")
	}
	if cfg.PollInterval <= 0 {
		log.Fatalf("config: poll_interval must be positive, got %s", cfg.PollInterval)
	}

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
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = 10 * time.Minute
	}
	if cfg.Speech.Timeout <= 0 {
		cfg.Speech.Timeout = 5 * time.Minute
	}

	return &cfg
}
