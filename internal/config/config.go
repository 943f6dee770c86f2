// Package config loads botforge runtime configuration from the environment.
//
// A .env file in the working directory (or its parent) is loaded first; real
// environment variables always win over .env values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"botforge/internal/logging"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Synthesis provider identifiers
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config is the complete configuration surface of the orchestrator.
type Config struct {
	Port        string
	Environment string

	// Synthesis service
	SynthesisProvider   string
	OllamaURL           string
	OllamaModel         string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	SynthesisRatePerMin int
	SynthesisTimeout    time.Duration
	RequestTimeout      time.Duration
	AnalysisCacheTTL    time.Duration
	AnalysisCacheSize   int
	RedisURL            string

	// Deployment
	BackendPort         int
	FrontendPort        int
	DeployGracePeriod   time.Duration
	DeployStopTimeout   time.Duration
	BackendCommand      string
	FrontendCommand     string
	InstallDependencies bool
	ServiceSignature    string

	// Limits
	MaxMessageLength int
	MaxUploadBytes   int64
	MaxDocumentChars int

	// Storage
	BundleRoot          string
	DatabaseURL         string
	SQLitePath          string
	BundleArchiveBucket string
	BundleArchivePrefix string
	BundleArchiveURL    string
	AWSRegion           string

	// HTTP
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

// Load reads configuration from .env and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			logging.S().Debug("no .env file found, using environment variables")
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: GetEnvironment(),

		SynthesisProvider:   strings.ToLower(getEnv("SYNTHESIS_PROVIDER", ProviderOllama)),
		OllamaURL:           getEnvAny([]string{"OLLAMA_URL", "OLLAMA_BASE_URL"}, "http://localhost:11434"),
		OllamaModel:         getEnv("OLLAMA_MODEL", "deepseek-r1:latest"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		SynthesisRatePerMin: getEnvInt("SYNTHESIS_RATE_PER_MINUTE", 60),
		SynthesisTimeout:    getEnvDuration("SYNTHESIS_TIMEOUT", 5*time.Minute),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 15*time.Minute),
		AnalysisCacheTTL:    getEnvDuration("ANALYSIS_CACHE_TTL", time.Hour),
		AnalysisCacheSize:   getEnvInt("ANALYSIS_CACHE_SIZE", 256),
		RedisURL:            getEnv("REDIS_URL", ""),

		BackendPort:         getEnvInt("DEPLOYED_BACKEND_PORT", 8001),
		FrontendPort:        getEnvInt("DEPLOYED_FRONTEND_PORT", 3000),
		DeployGracePeriod:   getEnvDuration("DEPLOY_GRACE_PERIOD", 2*time.Second),
		DeployStopTimeout:   getEnvDuration("DEPLOY_STOP_TIMEOUT", 5*time.Second),
		BackendCommand:      getEnv("BACKEND_COMMAND", "python -m uvicorn app:app --host 0.0.0.0 --port {port}"),
		FrontendCommand:     getEnv("FRONTEND_COMMAND", "python -m http.server {port}"),
		InstallDependencies: getEnvBool("INSTALL_DEPENDENCIES", true),
		ServiceSignature:    getEnv("SERVICE_SIGNATURE", "botforge serve"),

		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 15000),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
		MaxDocumentChars: getEnvInt("MAX_DOCUMENT_CHARS", 100000),

		BundleRoot:          getEnv("BUNDLE_ROOT", cwd),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		SQLitePath:          getEnv("SQLITE_PATH", "botforge.db"),
		BundleArchiveBucket: getEnv("BUNDLE_ARCHIVE_BUCKET", ""),
		BundleArchivePrefix: getEnv("BUNDLE_ARCHIVE_PREFIX", "bundles/"),
		BundleArchiveURL:    getEnv("BUNDLE_ARCHIVE_ENDPOINT", ""),
		AWSRegion:           getEnv("AWS_REGION", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
}

// Validate rejects settings that would make the orchestrator misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.BackendPort <= 0 || c.BackendPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid backend port %d", c.BackendPort))
	}
	if c.FrontendPort <= 0 || c.FrontendPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid frontend port %d", c.FrontendPort))
	}
	if c.BackendPort == c.FrontendPort {
		errs = append(errs, fmt.Errorf("backend and frontend ports must differ (both %d)", c.BackendPort))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	switch c.SynthesisProvider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("SYNTHESIS_PROVIDER=openai requires OPENAI_API_KEY or OPENAI_BASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SYNTHESIS_PROVIDER %q", c.SynthesisProvider))
	}
	return errors.Join(errs...)
}

// SynthesisModel returns the model identifier of the configured provider.
func (c *Config) SynthesisModel() string {
	if c.SynthesisProvider == ProviderOpenAI {
		return c.OpenAIModel
	}
	return c.OllamaModel
}

// SynthesisEndpoint returns the base URL of the configured provider.
func (c *Config) SynthesisEndpoint() string {
	if c.SynthesisProvider == ProviderOpenAI {
		if c.OpenAIBaseURL != "" {
			return c.OpenAIBaseURL
		}
		return "https://api.openai.com/v1"
	}
	return c.OllamaURL
}

// GetEnvironment returns the normalized deployment environment name.
func GetEnvironment() string {
	env := getEnvAny([]string{"GO_ENV", "ENVIRONMENT", "ENV"}, EnvDevelopment)
	return strings.ToLower(env)
}

// IsProductionEnvironment returns true when running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAny(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		logging.S().Warnf("invalid integer for %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	logging.S().Warnf("invalid duration for %s=%q, using default %s", key, value, defaultValue)
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
