// Package config содержит логику чтения конфигурации сервиса inntektsmelding.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса inntektsmelding.
type Config struct {
	RunAddress          string `env:"RUN_ADDRESS"`
	DatabaseURI         string `env:"DATABASE_URI"`
	NotificationAddress string `env:"NOTIFICATION_ADDRESS"`
	PersonAddress       string `env:"PERSON_ADDRESS"`
	ArchiveAddress      string `env:"ARCHIVE_ADDRESS"`
	SchemaBaseURL       string `env:"SKJEMA_BASE_URL"`
	AuthSecret          string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotificationAddress := cfg.NotificationAddress
	envPersonAddress := cfg.PersonAddress
	envArchiveAddress := cfg.ArchiveAddress
	envSchemaBaseURL := cfg.SchemaBaseURL
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotificationAddress, "n", "", "employer notification system address")
	flag.StringVar(&cfg.PersonAddress, "p", "", "person registry address")
	flag.StringVar(&cfg.ArchiveAddress, "j", "", "document archive address")
	flag.StringVar(&cfg.SchemaBaseURL, "s", "https://arbeidsgiver.nav.no/im-dialog", "base URL of the employer dialog form")
	flag.StringVar(&cfg.AuthSecret, "k", "", "secret key for caller tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotificationAddress != "" {
		cfg.NotificationAddress = envNotificationAddress
	}
	if envPersonAddress != "" {
		cfg.PersonAddress = envPersonAddress
	}
	if envArchiveAddress != "" {
		cfg.ArchiveAddress = envArchiveAddress
	}
	if envSchemaBaseURL != "" {
		cfg.SchemaBaseURL = envSchemaBaseURL
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
