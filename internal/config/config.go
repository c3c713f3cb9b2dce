// Package config содержит логику чтения конфигурации сервиса генерации дизайнов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`

	// Объектное хранилище изображений.
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket        string `env:"S3_BUCKET"`
	S3AccessKeyID   string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`

	// Ключи внешних провайдеров генерации. Пустой ключ означает,
	// что провайдер не настроен и не участвует в каскаде.
	FalAPIKey         string `env:"FAL_API_KEY"`
	ReplicateAPIKey   string `env:"REPLICATE_API_KEY"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	GoogleAPIKey      string `env:"GOOGLE_API_KEY"`
	HuggingFaceAPIKey string `env:"HUGGINGFACE_API_KEY"`
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`

	// Размер ежемесячного бесплатного начисления кредитов.
	MonthlyCredits int64 `env:"MONTHLY_CREDITS" envDefault:"5"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.MonthlyCredits < 0 {
		return nil, fmt.Errorf("monthly credits must not be negative, got %d", cfg.MonthlyCredits)
	}

	return cfg, nil
}
