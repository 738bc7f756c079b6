package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Regression struct {
		TrainMethod       string  `env:"GPR_TRAIN_METHOD" envDefault:"BFGS"`
		UseGradient       bool    `env:"GPR_USE_GRADIENT" envDefault:"true"`
		GradientThreshold float64 `env:"GPR_GRADIENT_THRESHOLD" envDefault:"1e-6"`
		MaxIterations     int     `env:"GPR_MAX_ITERATIONS" envDefault:"0"`
		MaxTrainingPoints int     `env:"GPR_MAX_TRAINING_POINTS" envDefault:"10000"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development runs verbose unless the operator asked otherwise.
	if cfg.Environment == "development" && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}

	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return nil, fmt.Errorf("config: invalid HTTP port %d", cfg.HTTP.Port)
	}
	if cfg.Regression.MaxTrainingPoints < 1 {
		return nil, fmt.Errorf("config: max training points must be positive, got %d", cfg.Regression.MaxTrainingPoints)
	}

	return cfg, nil
}
