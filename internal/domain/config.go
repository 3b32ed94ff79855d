package domain

import (
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Edition determines feature availability
	Edition Edition `json:"edition"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine settings
	Scoring ScoringConfig `json:"scoring"`
	KYC     KYCConfig     `json:"kyc"`
	Risk    RiskConfig    `json:"risk"`

	// AsyncWorker starts the bus consumer regardless of edition.
	AsyncWorker bool     `json:"asyncWorker"`
	Tenants     []string `json:"tenants"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig controls the external model call and its calibration.
type ScoringConfig struct {
	MLServiceURL string        `json:"mlServiceUrl"`
	MLTimeout    time.Duration `json:"mlTimeout"`
	Temperature  float64       `json:"temperature"`
	DisableML    bool          `json:"disableMl"`
	CacheTTL     time.Duration `json:"cacheTtl"`
}

// KYCConfig holds identity verification settings.
type KYCConfig struct {
	NameThreshold float64 `json:"nameThreshold"`
}

// RiskConfig holds transaction risk scorer settings.
type RiskConfig struct {
	CryptoKeywords []string `json:"cryptoKeywords"`
	LargeTxnFloor  float64  `json:"largeTxnFloor"`
	AlertThreshold float64  `json:"alertThreshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Edition represents the product edition.
type Edition string

const (
	// EditionCommunity is the free edition with SQLite + channels
	EditionCommunity Edition = "community"

	// EditionPro is the paid edition with PostgreSQL + NATS + Redis
	EditionPro Edition = "pro"
)

// DefaultCryptoKeywords are matched case-insensitively against merchant and category.
var DefaultCryptoKeywords = []string{"crypto", "binance", "coin", "exchange"}

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Edition: EditionCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			MLServiceURL: "http://127.0.0.1:8000",
			MLTimeout:    8 * time.Second,
			Temperature:  1.5,
			CacheTTL:     10 * time.Minute,
		},
		KYC: KYCConfig{
			NameThreshold: 0.80,
		},
		Risk: RiskConfig{
			CryptoKeywords: append([]string(nil), DefaultCryptoKeywords...),
			LargeTxnFloor:  50000,
			AlertThreshold: 0.7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// ApplyEnv overlays environment settings onto the config.
// Values that fail to parse leave the current setting untouched.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setString(&c.Server.Host, getenv("KESTREL_HOST"))
	setInt(&c.Server.Port, getenv("KESTREL_PORT"))

	setString(&c.Repository.SQLitePath, getenv("KESTREL_SQLITE_PATH"))
	setString(&c.Repository.PostgresHost, getenv("KESTREL_PG_HOST"))
	setInt(&c.Repository.PostgresPort, getenv("KESTREL_PG_PORT"))
	setString(&c.Repository.PostgresUser, getenv("KESTREL_PG_USER"))
	setString(&c.Repository.PostgresPassword, getenv("KESTREL_PG_PASSWORD"))
	setString(&c.Repository.PostgresDB, getenv("KESTREL_PG_DB"))
	setString(&c.Repository.PostgresSSLMode, getenv("KESTREL_PG_SSLMODE"))

	setString(&c.Cache.RedisAddr, getenv("KESTREL_REDIS_ADDR"))
	setString(&c.Cache.RedisPassword, getenv("KESTREL_REDIS_PASSWORD"))

	setString(&c.EventBus.NATSUrl, getenv("KESTREL_NATS_URL"))
	setString(&c.EventBus.NATSToken, getenv("KESTREL_NATS_TOKEN"))

	setString(&c.Scoring.MLServiceURL, getenv("ML_SERVICE_URL"))
	setFloat(&c.Scoring.Temperature, getenv("ML_TEMP"))
	if ms, err := strconv.Atoi(getenv("ML_TIMEOUT_MS")); err == nil && ms > 0 {
		c.Scoring.MLTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := strings.ToLower(getenv("DISABLE_ML")); v == "true" || v == "1" {
		c.Scoring.DisableML = true
	}

	setFloat(&c.KYC.NameThreshold, getenv("KYC_NAME_THRESHOLD"))

	if kw := splitList(getenv("RISK_CRYPTO_KEYWORDS")); len(kw) > 0 {
		c.Risk.CryptoKeywords = kw
	}
	setFloat(&c.Risk.LargeTxnFloor, getenv("RISK_LARGE_TXN_FLOOR"))

	if getenv("KESTREL_ASYNC_WORKER") == "true" {
		c.AsyncWorker = true
	}
	if tenants := splitList(getenv("KESTREL_TENANTS")); len(tenants) > 0 {
		c.Tenants = tenants
	}
	if getenv("KESTREL_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
