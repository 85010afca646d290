package config

import (
	"errors"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Host               string   `env:"HOST"                  env-default:"0.0.0.0"`
	Port               string   `env:"PORT"                  env-default:"8003"`
	DatabaseURL        string   `env:"DATABASE_URL"          env-default:"sqlite://pms.db"`
	LogLevel           string   `env:"LOG_LEVEL"             env-default:"info"`
	StaffAccountIDs    []string `env:"STAFF_ACCOUNT_IDS"     env-separator:","`
	CookieSecure       bool     `env:"COOKIE_SECURE"         env-default:"false"`
	LoginRatePerMinute float64  `env:"LOGIN_RATE_PER_MINUTE" env-default:"10"`
	LoginBurst         int      `env:"LOGIN_BURST"           env-default:"5"`
}

// New reads the environment, after loading .env when one is present.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
