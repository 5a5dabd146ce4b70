package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendFile   = "file"
)

type Config struct {
	TelegramToken       string        `env:"TELEGRAM_BOT_TOKEN,required=true" validate:"required"`
	TelegramBaseURL     string        `env:"TELEGRAM_BASE_URL,default=https://api.telegram.org" validate:"required,url"`
	TelegramPollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT,default=60s" validate:"gte=1s"`

	ModelPath         string `env:"MODEL_PATH,required=true" validate:"required"`
	ModelMetadataPath string `env:"MODEL_METADATA_PATH"`
	OnnxRuntimeLib    string `env:"ONNXRUNTIME_LIB"`

	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT,default=2m" validate:"gt=0"`

	SessionBackend       string        `env:"SESSION_BACKEND,default=memory" validate:"oneof=memory badger"`
	SessionTTL           time.Duration `env:"SESSION_TTL,default=15m" validate:"gtfield=AnalysisTimeout"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL,default=1m" validate:"gt=0"`
	SessionBadgerPath    string        `env:"SESSION_BADGER_PATH"`

	FeedbackBackend    string `env:"FEEDBACK_BACKEND,default=file" validate:"oneof=file badger"`
	FeedbackPath       string `env:"FEEDBACK_PATH,default=feedback.txt" validate:"required_if=FeedbackBackend file"`
	FeedbackBadgerPath string `env:"FEEDBACK_BADGER_PATH,default=data/feedback" validate:"required_if=FeedbackBackend badger"`

	MaxFileBytes      int64         `env:"MAX_FILE_BYTES,default=20971520" validate:"gt=0"`
	WorkerQueueSize   int           `env:"WORKER_QUEUE_SIZE,default=16" validate:"gt=0"`
	WorkerIdleTimeout time.Duration `env:"WORKER_IDLE_TIMEOUT,default=5m" validate:"gt=0"`

	LogLevel string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// Load reads an optional .env file then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return Parse(es)
}

func Parse(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
