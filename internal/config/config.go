package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN           string `env:"DATABASE_DSN,required=true"`
	RedisURL              string `env:"REDIS_URL"`
	EmailGatewayURL       string `env:"EMAIL_GATEWAY_URL,required=true"`
	SMSGatewayURL         string `env:"SMS_GATEWAY_URL,required=true"`
	PushGatewayURL        string `env:"PUSH_GATEWAY_URL,required=true"`
	BatchSize             int    `env:"BATCH_SIZE,default=100"`
	InterBatchDelayMillis int    `env:"INTER_BATCH_DELAY_MS,default=1000"`
	RetryBatchSize        int    `env:"RETRY_BATCH_SIZE,default=50"`
	RetryBatchDelayMillis int    `env:"RETRY_INTER_BATCH_DELAY_MS,default=2000"`
	DispatchRatePerSec    int    `env:"DISPATCH_RATE_PER_SEC,default=10"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMillis) * time.Millisecond
}

func (c *Config) RetryInterBatchDelay() time.Duration {
	return time.Duration(c.RetryBatchDelayMillis) * time.Millisecond
}
