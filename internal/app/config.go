package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	DataDir   string
	ModelsDir string
	TempDir   string
	DBPath    string

	FFMPEGPath  string
	FFProbePath string

	// Download manager.
	DownloadMaxConcurrent int
	DownloadTimeout       time.Duration
	DownloadMaxRetries    int
	DownloadRetryDelay    time.Duration
	DownloadUserAgent     string
	DownloadMaxRedirects  int
	DownloadVerifySSL     bool

	// Model manager.
	ModelMaxConcurrentDownloads int
	ModelDownloadTimeout        time.Duration
	ModelMaxRetryAttempts       int
	ModelAutoCleanupEnabled     bool
	ModelAutoCleanupInterval    time.Duration
	ModelUnusedThreshold        time.Duration

	// Transcription engine.
	MaxConcurrentTranscriptions int
	TranscriptionMemoryLimitMB  int64
	GPUEnabled                  bool

	// Media pipeline.
	MaxConcurrentOperations int
	MediaMemoryLimitMB      int64

	// Recovery coordinator.
	MaxErrorHistory       int
	ErrorReportingEnabled bool
	AutoRecoveryEnabled   bool
	BreakerThreshold      int
	BreakerResetTimeout   time.Duration

	// Torrent ingest.
	TorrentDataDir string

	CORSAllowedOrigins []string // empty = allow all (dev mode)
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		DataDir:   getEnv("DATA_DIR", "data"),
		ModelsDir: getEnv("MODELS_DIR", "models"),
		TempDir:   getEnv("TEMP_DIR", os.TempDir()),
		DBPath:    getEnv("DB_PATH", "corekit.db"),

		FFMPEGPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath: getEnv("FFPROBE_PATH", "ffprobe"),

		DownloadMaxConcurrent: int(getEnvInt64("DOWNLOAD_MAX_CONCURRENT", 3)),
		DownloadTimeout:       time.Duration(getEnvInt64("DOWNLOAD_TIMEOUT_SECONDS", 300)) * time.Second,
		DownloadMaxRetries:    int(getEnvInt64("DOWNLOAD_MAX_RETRIES", 3)),
		DownloadRetryDelay:    time.Duration(getEnvInt64("DOWNLOAD_RETRY_DELAY_SECONDS", 2)) * time.Second,
		DownloadUserAgent:     getEnv("DOWNLOAD_USER_AGENT", "corekit/1.0"),
		DownloadMaxRedirects:  int(getEnvInt64("DOWNLOAD_MAX_REDIRECTS", 5)),
		DownloadVerifySSL:     getEnvBool("DOWNLOAD_VERIFY_SSL", true),

		ModelMaxConcurrentDownloads: int(getEnvInt64("MODEL_MAX_CONCURRENT_DOWNLOADS", 2)),
		ModelDownloadTimeout:        time.Duration(getEnvInt64("MODEL_DOWNLOAD_TIMEOUT_SECONDS", 1800)) * time.Second,
		ModelMaxRetryAttempts:       int(getEnvInt64("MODEL_MAX_RETRY_ATTEMPTS", 3)),
		ModelAutoCleanupEnabled:     getEnvBool("MODEL_AUTO_CLEANUP", true),
		ModelAutoCleanupInterval:    time.Duration(getEnvInt64("MODEL_AUTO_CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		ModelUnusedThreshold:        time.Duration(getEnvInt64("MODEL_UNUSED_THRESHOLD_DAYS", 30)) * 24 * time.Hour,

		MaxConcurrentTranscriptions: int(getEnvInt64("TRANSCRIPTION_MAX_CONCURRENT", 2)),
		TranscriptionMemoryLimitMB:  getEnvInt64("TRANSCRIPTION_MEMORY_LIMIT_MB", 4096),
		GPUEnabled:                  getEnvBool("GPU_ENABLED", false),

		MaxConcurrentOperations: int(getEnvInt64("MEDIA_MAX_CONCURRENT", 4)),
		MediaMemoryLimitMB:      getEnvInt64("MEDIA_MEMORY_LIMIT_MB", 2048),

		MaxErrorHistory:       int(getEnvInt64("RECOVERY_MAX_ERROR_HISTORY", 1000)),
		ErrorReportingEnabled: getEnvBool("RECOVERY_ERROR_REPORTING", true),
		AutoRecoveryEnabled:   getEnvBool("RECOVERY_AUTO_RECOVERY", true),
		BreakerThreshold:      int(getEnvInt64("RECOVERY_BREAKER_THRESHOLD", 5)),
		BreakerResetTimeout:   time.Duration(getEnvInt64("RECOVERY_BREAKER_RESET_SECONDS", 300)) * time.Second,

		TorrentDataDir: getEnv("TORRENT_DATA_DIR", "torrents"),

		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func parseCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
