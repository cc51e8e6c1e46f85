package internal

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	BadgerFilepath         string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath          string        `env:"BLUGE_FILEPATH,required=true"`
	AttachmentDir          string        `env:"ATTACHMENT_DIR,required=true"`
	AuthSecret             string        `env:"AUTH_SECRET,required=true"`
	LogLevel               string        `env:"LOG_LEVEL,default=INFO"`
	WindowSize             int           `env:"WINDOW_SIZE,default=25"`
	SearchLimit            int           `env:"SEARCH_LIMIT,default=20"`
	NotificationWorkers    int           `env:"NOTIFICATION_WORKERS,default=2"`
	NotificationBufferSize int           `env:"NOTIFICATION_BUFFER_SIZE,default=256"`
	RestartInterval        time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	AuthTokenDuration      time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	CacheMaxBytes          int64         `env:"CACHE_MAX_BYTES,default=67108864"`
	MetricsAddr            string        `env:"METRICS_ADDR"`
	DebugPort              int           `env:"DEBUG_PORT,default=8081"`
	ModerationWords        string        `env:"MODERATION_WORDS"`
	ModerationReplacement  string        `env:"MODERATION_REPLACEMENT,default=*"`
}

// Replacement is the rune masking banned words.
func (c Config) Replacement() rune {
	r, _ := utf8.DecodeRuneInString(c.ModerationReplacement)
	return r
}

// LoadConfig reads a .env file when present, then the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.WindowSize < 0:
		return fmt.Errorf("WINDOW_SIZE must not be negative, got %d", c.WindowSize)
	case c.SearchLimit < 1:
		return fmt.Errorf("SEARCH_LIMIT must be at least 1, got %d", c.SearchLimit)
	case c.NotificationWorkers < 1:
		return fmt.Errorf("NOTIFICATION_WORKERS must be at least 1, got %d", c.NotificationWorkers)
	case c.NotificationBufferSize < 1:
		return fmt.Errorf("NOTIFICATION_BUFFER_SIZE must be at least 1, got %d", c.NotificationBufferSize)
	case utf8.RuneCountInString(c.ModerationReplacement) != 1:
		return fmt.Errorf("MODERATION_REPLACEMENT must be a single character, got %q", c.ModerationReplacement)
	case len(c.AuthSecret) < 16:
		return fmt.Errorf("AUTH_SECRET must be at least 16 characters")
	}
	return nil
}
