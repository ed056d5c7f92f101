package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds configuration for both binaries.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Twilio struct {
		AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
		AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
		// WebhookBase is the public scheme+host Twilio signs requests
		// against, e.g. https://api.example.org.
		WebhookBase string        `envconfig:"TWILIO_WEBHOOK_BASE"`
		Timeout     time.Duration `envconfig:"TWILIO_TIMEOUT" default:"15s"`
	} `envconfig:""`

	FCM struct {
		Key     string        `envconfig:"FCM_KEY"`
		BaseURL string        `envconfig:"FCM_BASE_URL"`
		Timeout time.Duration `envconfig:"FCM_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Sweeper struct {
		Interval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
		// SystemUserID is recorded as the resolver when the sweeper
		// force-closes problems of a finished event.
		SystemUserID   int64 `envconfig:"SWEEP_SYSTEM_USER_ID" default:"1001"`
		ResolutionCode int   `envconfig:"SWEEP_RESOLUTION_CODE" default:"77"`
	} `envconfig:""`
}

// Load reads the config from the environment. A local .env file, when
// present, is merged in first.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
