package config

import (
	"errors"
	"os"
)

// service configuration, all env-driven
type Config struct {
	Port           string
	RedisAddr      string
	QuestionSvcURL string
	UserSvcURL     string
	JWTSecret      string
}

// loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Port:           getEnvOrDefault("PORT", "8083"),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		QuestionSvcURL: getEnvOrDefault("QUESTION_SVC_URL", "http://localhost:8081"),
		UserSvcURL:     getEnvOrDefault("USER_SVC_URL", "http://localhost:8082"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
