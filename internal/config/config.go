package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for capture tuning. The job timeout matches the bounded wait the
// dual-source capture has always used; it is per job, not per run.
const (
	DefaultJobTimeout = 60 * time.Second
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
)

// Settings holds the resolved runtime configuration. Flags override env
// values, env values override defaults; the assembly happens in the CLI.
type Settings struct {
	// Threads bounds the capture worker pool. Zero or negative means
	// "use the available hardware parallelism".
	Threads int
	// JobTimeout is the wall-clock budget for each parallel capture job.
	JobTimeout time.Duration
	// UserAgent is sent on every platform request.
	UserAgent string
	// ScratchDir, when set, overrides the per-run temporary directory.
	ScratchDir string
}

// FromEnv builds Settings from the environment (after Load has run).
func FromEnv() Settings {
	return Settings{
		Threads:    GetEnvInt("TWSPACEDL_THREADS", runtime.NumCPU()),
		JobTimeout: GetEnvDuration("TWSPACEDL_JOB_TIMEOUT", DefaultJobTimeout),
		UserAgent:  GetEnv("TWSPACEDL_USER_AGENT", DefaultUserAgent),
		ScratchDir: GetEnv("TWSPACEDL_SCRATCH_DIR", ""),
	}
}

// Normalize clamps nonsensical values back to usable ones.
func (s Settings) Normalize() Settings {
	if s.Threads <= 0 {
		s.Threads = runtime.NumCPU()
	}
	if s.JobTimeout <= 0 {
		s.JobTimeout = DefaultJobTimeout
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	return s
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value of the environment variable named
// by key (e.g. "90s"), or fallback if unset or unparseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
