package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	HTTPAddr    string
	LogLevel    string

	QueueKey          string
	QueuePollTimeout  time.Duration
	WorkerConcurrency int
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	CacheNamespace        string
	CacheTTL              time.Duration
	CacheBreakerThreshold int
	CacheBreakerCooldown  time.Duration

	MappingTimeout  time.Duration
	CVSSTimeout     time.Duration
	EPSSTimeout     time.Duration
	ThreatTimeout   time.Duration
	AnalysisTimeout time.Duration

	PrimaryAI   AIConfig
	SecondaryAI AIConfig
	ThreatAI    AIConfig

	OSVURL         string
	EPSSURL        string
	NVDURL         string
	NVDAPIKey      string
	NVDMinInterval time.Duration

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	ReportsBucket string
}

type AIConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

func (c AIConfig) Enabled() bool { return c.Provider != "" && c.APIKey != "" }

// DLQKey is the list that receives failed tasks.
func (c Config) DLQKey() string { return c.QueueKey + ":failed" }

func (c Config) ArchiveEnabled() bool { return c.S3Endpoint != "" && c.ReportsBucket != "" }

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func loadAI(prefix, defProvider string) AIConfig {
	provider := strings.ToLower(getString(prefix+"_PROVIDER", defProvider))
	apiKey := os.Getenv(prefix + "_API_KEY")
	if apiKey == "" {
		switch provider {
		case "claude", "anthropic":
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return AIConfig{
		Provider: provider,
		Model:    os.Getenv(prefix + "_MODEL"),
		APIKey:   apiKey,
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
	}
}

// Load reads the environment. Callers load .env files first.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getString("REDIS_URL", "redis://localhost:6379/0"),
		HTTPAddr:    os.Getenv("HTTP_ADDR"),
		LogLevel:    getString("LOG_LEVEL", "info"),

		QueueKey:          getString("QUEUE_KEY", "analysis_tasks"),
		QueuePollTimeout:  getDuration("QUEUE_POLL_TIMEOUT", 2*time.Second),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 1),
		ReconnectAttempts: getInt("RECONNECT_ATTEMPTS", 8),
		ReconnectDelay:    getDuration("RECONNECT_DELAY", 500*time.Millisecond),

		CacheNamespace:        getString("CACHE_NAMESPACE", "pipeline"),
		CacheTTL:              getDuration("CACHE_TTL", time.Hour),
		CacheBreakerThreshold: getInt("CACHE_BREAKER_THRESHOLD", 1),
		CacheBreakerCooldown:  getDuration("CACHE_BREAKER_COOLDOWN", 30*time.Second),

		MappingTimeout:  getDuration("MAPPING_TIMEOUT", 15*time.Second),
		CVSSTimeout:     getDuration("CVSS_TIMEOUT", 10*time.Second),
		EPSSTimeout:     getDuration("EPSS_TIMEOUT", 10*time.Second),
		ThreatTimeout:   getDuration("THREAT_TIMEOUT", 45*time.Second),
		AnalysisTimeout: getDuration("ANALYSIS_TIMEOUT", 90*time.Second),

		PrimaryAI:   loadAI("PRIMARY_AI", "claude"),
		SecondaryAI: loadAI("SECONDARY_AI", "openai"),

		OSVURL:    getString("OSV_URL", "https://api.osv.dev/v1/query"),
		EPSSURL:   getString("EPSS_URL", "https://api.first.org/data/v1/epss"),
		NVDURL:    getString("NVD_URL", "https://services.nvd.nist.gov/rest/json/cves/2.0"),
		NVDAPIKey: os.Getenv("NVD_API_KEY"),

		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:      getBool("S3_USE_SSL", "false"),
		ReportsBucket: os.Getenv("REPORTS_BUCKET"),
	}
	cfg.ThreatAI = loadAI("THREAT_AI", "openai")

	// NVD allows 5 requests per 30s without a key, 50 with one
	nvdInterval := 6 * time.Second
	if cfg.NVDAPIKey != "" {
		nvdInterval = 600 * time.Millisecond
	}
	cfg.NVDMinInterval = getDuration("NVD_MIN_INTERVAL", nvdInterval)

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = 1
	}
	if cfg.QueuePollTimeout <= 0 {
		cfg.QueuePollTimeout = 2 * time.Second
	}
	return cfg, nil
}
