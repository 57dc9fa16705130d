package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"talentscreen-backend/internal/assessment"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Tokens
	SessionTokenSecret   string
	SessionTokenTTLHours int
	RecruiterJWTSecret   string

	// Gemini AI, optional: without a key voice answers are checked heuristically
	GeminiAPIKey         string
	GeminiConcurrentReqs int

	// Storage
	StoragePath string
	MaxUploadMB int

	// Workers
	WorkerCount          int
	SweepIntervalMinutes int

	// Assessment policy
	PolicyFile string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		SessionTokenSecret:   mustGetEnv("SESSION_TOKEN_SECRET"),
		SessionTokenTTLHours: getEnvAsIntOrDefault("SESSION_TOKEN_TTL_HOURS", 72),
		RecruiterJWTSecret:   mustGetEnv("RECRUITER_JWT_SECRET"),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		StoragePath:          getEnvOrDefault("STORAGE_PATH", "./uploads"),
		MaxUploadMB:          getEnvAsIntOrDefault("MAX_UPLOAD_MB", 512),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 3),
		SweepIntervalMinutes: getEnvAsIntOrDefault("SWEEP_INTERVAL_MINUTES", 10),
		PolicyFile:           getEnvOrDefault("ASSESSMENT_POLICY_FILE", ""),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func (c *Config) SessionTokenTTL() time.Duration {
	return time.Duration(c.SessionTokenTTLHours) * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	if c.SweepIntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// LoadPolicy reads the assessment policy from a YAML file. An empty path
// yields the default policy; zero durations in the file are filled in too.
func LoadPolicy(path string) (assessment.Policy, error) {
	if path == "" {
		return assessment.DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return assessment.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy assessment.Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return assessment.Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if policy.TabSwitchLimit < 0 {
		return assessment.Policy{}, fmt.Errorf("policy file %s: tab_switch_limit must not be negative", path)
	}

	return policy.WithDefaults(), nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
