// Package config loads the engine's runtime configuration from environment
// variables, with pair/port/currency topology layered in from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for one order-book engine process.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Engine        EngineConfig
}

// ServerConfig controls the admin HTTP surface (health + metrics only; order
// create/cancel/edit intake never goes through HTTP, see EngineConfig.SocketHost/SocketPort).
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

type RedisConfig struct {
	URL             string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
	MetricsPort    int
}

// EngineConfig carries the parts of configuration that are specific to the
// matching engine domain: which pair this process serves, the socket it
// listens on for intake, the commission rate, the dump directory, the
// recovery batch size, the market-residue fallback price and the persistence
// writer's buffer size; it holds no currency list. Pair/port/currency topology is normally supplied by a YAML file
// (see LoadPairsFile) since it describes deployment topology rather than a
// single process's knobs.
type EngineConfig struct {
	Pair              string
	SocketHost        string
	SocketPort        int
	DefaultCommission decimal.Decimal
	DumpDir           string
	RecoveryBatchSize int
	// FallbackPrice is assigned to a market order's residue when its own
	// side's ladder has nothing resting to borrow a reference price from
	// (resolves the source's random-fallback open question deterministically).
	FallbackPrice   decimal.Decimal
	PWBufferSize    int
}

// Load loads process configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("ADMIN_HOST", "0.0.0.0"),
			Port:         getEnv("ADMIN_PORT", "9090"),
			ReadTimeout:  getDurationEnv("ADMIN_READ_TIMEOUT", 5*time.Second),
			WriteTimeout: getDurationEnv("ADMIN_WRITE_TIMEOUT", 5*time.Second),
			IdleTimeout:  getDurationEnv("ADMIN_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			QueryTimeout:    getDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getIntEnv("REDIS_DB", 0),
			PoolSize:        getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:     getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			MaxRetries:      getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "order-book-engine"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsPort:    getIntEnv("METRICS_PORT", 9100),
		},
		Engine: EngineConfig{
			Pair:              getEnv("ENGINE_PAIR", ""),
			SocketHost:        getEnv("ENGINE_SOCKET_HOST", "localhost"),
			SocketPort:        getIntEnv("ENGINE_SOCKET_PORT", 0),
			DefaultCommission: getDecimalEnv("DEFAULT_COMMISSION", decimal.NewFromFloat(0.001)),
			DumpDir:           getEnv("ENGINE_DUMP_DIR", "."),
			RecoveryBatchSize: getIntEnv("ENGINE_RECOVERY_BATCH_SIZE", 500),
			FallbackPrice:     getDecimalEnv("ENGINE_FALLBACK_PRICE", decimal.NewFromInt(1)),
			PWBufferSize:      getIntEnv("ENGINE_PW_BUFFER_SIZE", 1024),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Engine.Pair == "" {
		return fmt.Errorf("ENGINE_PAIR is required")
	}
	return nil
}

// PairsFile is the YAML topology document shared by every engine process: it
// maps each trading pair to the TCP port its intake socket listens on and
// declares the fixed currency enumeration. Operators deploy one engine
// process per pair, all reading the same file, so port assignment never
// collides.
type PairsFile struct {
	Currencies []string         `yaml:"currencies"`
	Pairs      map[string]int   `yaml:"pairs"` // pair -> socket port
	Commission *decimal.Decimal `yaml:"commission,omitempty"`
}

// LoadPairsFile reads and validates the pair->port topology file.
func LoadPairsFile(path string) (*PairsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pairs file: %w", err)
	}
	var pf PairsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pairs file: %w", err)
	}
	if len(pf.Pairs) == 0 {
		return nil, fmt.Errorf("pairs file declares no pairs")
	}
	seen := make(map[int]string, len(pf.Pairs))
	for pair, port := range pf.Pairs {
		if other, ok := seen[port]; ok {
			return nil, fmt.Errorf("pairs %s and %s both claim port %d", pair, other, port)
		}
		seen[port] = pair
	}
	return &pf, nil
}

// PortFor returns the socket port configured for pair and whether the pair
// is declared; it does not modify any Config.
func (pf *PairsFile) PortFor(pair string) (int, bool) {
	port, ok := pf.Pairs[pair]
	return port, ok
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
