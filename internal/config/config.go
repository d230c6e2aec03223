package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Redis    Redis
	Quota    Quota
	Pipeline Pipeline
	Origin   Origin
	Gemini   Gemini
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Quota holds the default external API limits; the settings provider can
// override them at runtime.
type Quota struct {
	TokensPerMinute   float64 `env:"QUOTA_TOKENS_PER_MINUTE" envDefault:"32000"`
	RequestsPerMinute int     `env:"QUOTA_REQUESTS_PER_MINUTE" envDefault:"15"`
	RequestsPerDay    int     `env:"QUOTA_REQUESTS_PER_DAY" envDefault:"1500"`
}

type Pipeline struct {
	Cadence         time.Duration `env:"PIPELINE_CADENCE" envDefault:"30s"`
	BatchSize       int           `env:"PIPELINE_BATCH_SIZE" envDefault:"10"`
	MaxRetries      int           `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`
	RetryInterval   time.Duration `env:"PIPELINE_RETRY_INTERVAL" envDefault:"5m"`
	RetryDelay      time.Duration `env:"PIPELINE_RETRY_DELAY" envDefault:"10m"`
	ReserveTimeout  time.Duration `env:"PIPELINE_RESERVE_TIMEOUT" envDefault:"90s"`
	PauseTTL        time.Duration `env:"PIPELINE_PAUSE_TTL" envDefault:"1h"`
	MaxItemAge      time.Duration `env:"PIPELINE_MAX_ITEM_AGE" envDefault:"72h"`
	MaxOutputTokens int32         `env:"PIPELINE_MAX_OUTPUT_TOKENS" envDefault:"1024"`
}

type Origin struct {
	BaseURL string        `env:"ORIGIN_BASE_URL"`
	Token   string        `env:"ORIGIN_TOKEN"`
	Timeout time.Duration `env:"ORIGIN_TIMEOUT" envDefault:"15s"`
}

type Gemini struct {
	Model string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
}

func Load() *Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return &c
}
