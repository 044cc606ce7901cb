package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers understood by repository.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds all application configuration
type Config struct {
	Store  StoreConfig
	Worker WorkerConfig
	Lock   LockConfig
	OCR    OCRConfig
	LLM    LLMConfig
	Server ServerConfig
}

// StoreConfig holds job store configuration
type StoreConfig struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	BusyTimeout      time.Duration
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	PollInterval time.Duration
	OneTime      bool
	ArtifactDir  string
	Dedupe       bool
	Recursive    bool
	StaleAfter   time.Duration // 0 disables the stale job reaper
	ReapInterval time.Duration // 0 sweeps every StaleAfter/2
}

// LockConfig holds accelerator lock configuration
type LockConfig struct {
	Dir          string
	Timeout      time.Duration
	PollInterval time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Enabled       bool
	Tesseract     string
	Pdftoppm      string
	TessdataDir   string
	HeicConverter string
	DPI           int
	MaxPages      int
	Language      string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Enabled     bool
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	MaxAttempts int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HealthAddr string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	apiKey := getEnv("OPENAI_API_KEY", "")
	return &Config{
		Store: StoreConfig{
			Driver:           strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
			DSN:              getEnv("STORE_DSN", "./jobs.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			BusyTimeout:      getEnvAsDuration("DB_BUSY_TIMEOUT", 5*time.Second),
		},
		Worker: WorkerConfig{
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			OneTime:      getEnvAsBool("ONE_TIME", false),
			ArtifactDir:  getEnv("ARTIFACT_DIR", "./uploads/parsed"),
			Dedupe:       getEnvAsBool("DEDUPE", true),
			Recursive:    getEnvAsBool("RECURSIVE", false),
			StaleAfter:   getEnvAsDuration("STALE_AFTER", 0),
			ReapInterval: getEnvAsDuration("REAP_INTERVAL", 0),
		},
		Lock: LockConfig{
			Dir:          getEnv("LOCK_DIR", "/tmp/docqueue_accel_lock"),
			Timeout:      getEnvAsDuration("LOCK_TIMEOUT", 30*time.Second),
			PollInterval: getEnvAsDuration("LOCK_POLL_INTERVAL", 500*time.Millisecond),
		},
		OCR: OCRConfig{
			Enabled:       !getEnvAsBool("DISABLE_OCR", false),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			HeicConverter: getEnv("HEIC_CONVERTER", "magick"),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 0),
			Language:      getEnv("OCR_LANG", "eng"),
		},
		LLM: LLMConfig{
			Enabled:     apiKey != "" || getEnv("OPENAI_BASE_URL", "") != "",
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      apiKey,
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			MaxAttempts: getEnvAsInt("OPENAI_MAX_ATTEMPTS", 3),
		},
		Server: ServerConfig{
			HealthAddr: getEnv("HEALTH_ADDR", ":8081"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverBadger:
	default:
		return NewAppError("CONFIG_ERROR", "STORE_DRIVER must be one of sqlite, postgres, badger", ErrInvalidInput)
	}
	if c.Store.DSN == "" && c.Store.Driver != DriverBadger {
		return NewAppError("CONFIG_ERROR", "STORE_DSN is required", ErrInvalidInput)
	}
	if c.Worker.PollInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "POLL_INTERVAL must be positive", ErrInvalidInput)
	}
	if c.Worker.ArtifactDir == "" {
		return NewAppError("CONFIG_ERROR", "ARTIFACT_DIR is required", ErrInvalidInput)
	}
	if c.Lock.Dir == "" {
		return NewAppError("CONFIG_ERROR", "LOCK_DIR is required", ErrInvalidInput)
	}
	if c.Lock.PollInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "LOCK_POLL_INTERVAL must be positive", ErrInvalidInput)
	}
	if c.LLM.Enabled && c.LLM.Model == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_MODEL is required when the LLM extractor is enabled", ErrInvalidInput)
	}
	return nil
}
