package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, resolved once at startup and passed
// explicitly to the components that need it.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	UploadDir string
	ChunkDir  string
	MergeDir  string
	HLSDir    string

	FFmpegPath  string
	FFprobePath string

	EncodeConcurrency int
	MergeConcurrency  int
	MaxUploadBytes    int64

	Encrypt       bool
	PublicBaseURL string

	CORSOrigins []string

	// StateRetention is how long finished assets and merges stay queryable.
	StateRetention time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds a Config from the environment, falling back to defaults.
func FromEnv() Config {
	return Config{
		Port:      GetEnv("PORT", "3000"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		UploadDir: GetEnv("UPLOAD_DIR", "uploads"),
		ChunkDir:  GetEnv("CHUNK_DIR", "uploads"),
		MergeDir:  GetEnv("MERGE_DIR", "uploads/merge"),
		HLSDir:    GetEnv("HLS_DIR", "hls"),

		FFmpegPath:  GetEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: GetEnv("FFPROBE_PATH", "ffprobe"),

		EncodeConcurrency: GetEnvInt("ENCODE_CONCURRENCY", runtime.GOMAXPROCS(0)),
		MergeConcurrency:  GetEnvInt("MERGE_CONCURRENCY", 4),
		MaxUploadBytes:    GetEnvInt64("MAX_UPLOAD_BYTES", 2<<30),

		Encrypt:       GetEnvBool("HLS_ENCRYPT", false),
		PublicBaseURL: strings.TrimRight(GetEnv("PUBLIC_BASE_URL", ""), "/"),

		CORSOrigins: strings.Split(GetEnv("CORS_ALLOWED_ORIGINS", "*"), ","),

		StateRetention: time.Duration(GetEnvInt("STATE_RETENTION_MINUTES", 60)) * time.Minute,

		ShutdownTimeout: time.Duration(GetEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvInt64 is GetEnvInt for values that may exceed 32 bits (byte sizes).
func GetEnvInt64(key string, fallback int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the values strconv.ParseBool does ("1", "true", "false", ...).
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
