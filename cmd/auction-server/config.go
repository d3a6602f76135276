package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloudx-io/crossbid/oracle"
	"github.com/cloudx-io/crossbid/storage"
)

const (
	listenVsock = "vsock"
	listenTCP   = "tcp"
)

// serverConfig is read from the environment, optionally seeded from a .env file.
type serverConfig struct {
	ListenMode  string
	VsockPort   uint32
	TCPAddr     string
	MaxWorkers  int
	ReadTimeout time.Duration
	LogLevel    slog.Level

	Owner         string
	NativeFeed    string
	EngineAccount string
	MaxDuration   time.Duration
	MaxPriceAge   time.Duration
	ManifestKey   string // PEM file
	DemoActions   bool   // serve fund, approve and mint_asset

	Tokens      map[string]uint8 // ref -> decimals
	Collections []string
	StaticFeeds map[string]staticFeed

	RedisURL    string
	RedisPrefix string

	SnapshotFile string
	Postgres     *storage.PostgresConfig

	NATSURL      string
	AMQPURL      string
	AMQPExchange string
	EventPrefix  string
}

type staticFeed struct {
	Price    string
	Decimals uint8
}

func loadConfig() (*serverConfig, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &serverConfig{
		ListenMode:    getEnv("LISTEN_MODE", listenTCP),
		TCPAddr:       getEnv("LISTEN_ADDR", "127.0.0.1:5000"),
		Owner:         getEnv("ENGINE_OWNER", ""),
		NativeFeed:    getEnv("NATIVE_FEED", ""),
		EngineAccount: getEnv("ENGINE_ACCOUNT", "engine"),
		ManifestKey:   getEnv("MANIFEST_PUBLIC_KEY", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPrefix:   getEnv("REDIS_FEED_PREFIX", oracle.DefaultRedisPrefix),
		SnapshotFile:  getEnv("SNAPSHOT_FILE", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "auction.events"),
		EventPrefix:   getEnv("EVENT_SUBJECT_PREFIX", "auction"),
	}

	var err error
	if cfg.MaxWorkers, err = getRequiredEnvInt("ENGINE_MAX_WORKERS"); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("ENGINE_MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}
	port, err := getEnvInt("VSOCK_PORT", 5000)
	if err != nil {
		return nil, err
	}
	cfg.VsockPort = uint32(port)

	if cfg.ReadTimeout, err = getEnvDuration("READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxDuration, err = getEnvDuration("MAX_AUCTION_DURATION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxPriceAge, err = getEnvDuration("MAX_PRICE_AGE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DemoActions, err = getEnvBool("DEMO_ACTIONS", false); err != nil {
		return nil, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if cfg.Tokens, err = parseTokens(getEnv("TOKENS", "")); err != nil {
		return nil, err
	}
	cfg.Collections = splitList(getEnv("COLLECTIONS", "demo"))
	if cfg.StaticFeeds, err = parseStaticFeeds(getEnv("STATIC_FEEDS", "")); err != nil {
		return nil, err
	}

	if host := getEnv("POSTGRES_HOST", ""); host != "" {
		pgPort, err := getEnvInt("POSTGRES_PORT", 5432)
		if err != nil {
			return nil, err
		}
		cfg.Postgres = &storage.PostgresConfig{
			Host:     host,
			Port:     pgPort,
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "crossbid"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", ""),
			Name:     getEnv("POSTGRES_SNAPSHOT_NAME", "default"),
		}
	}
	if cfg.Postgres != nil && cfg.SnapshotFile != "" {
		return nil, fmt.Errorf("SNAPSHOT_FILE and POSTGRES_HOST are mutually exclusive")
	}

	switch cfg.ListenMode {
	case listenVsock, listenTCP:
	default:
		return nil, fmt.Errorf("invalid LISTEN_MODE %q (must be %s or %s)", cfg.ListenMode, listenVsock, listenTCP)
	}
	return cfg, nil
}

// parseTokens reads "usdt:6,dai:18".
func parseTokens(s string) (map[string]uint8, error) {
	out := make(map[string]uint8)
	for _, item := range splitList(s) {
		ref, dec, ok := strings.Cut(item, ":")
		if !ok || ref == "" {
			return nil, fmt.Errorf("invalid TOKENS entry %q (want ref:decimals)", item)
		}
		decimals, err := strconv.ParseUint(dec, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals in TOKENS entry %q", item)
		}
		out[ref] = uint8(decimals)
	}
	return out, nil
}

// parseStaticFeeds reads "eth-usd:200000000000:8,usdt-usd:100000000:8" with prices in raw
// feed units.
func parseStaticFeeds(s string) (map[string]staticFeed, error) {
	out := make(map[string]staticFeed)
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid STATIC_FEEDS entry %q (want ref:price:decimals)", item)
		}
		if _, err := oracle.ParsePrice(parts[1]); err != nil {
			return nil, fmt.Errorf("STATIC_FEEDS entry %q: %w", item, err)
		}
		decimals, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals in STATIC_FEEDS entry %q", item)
		}
		out[parts[0]] = staticFeed{Price: parts[1], Decimals: uint8(decimals)}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	return intValue, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	if os.Getenv(key) == "" {
		return fallback, nil
	}
	return getRequiredEnvInt(key)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %s (must be true or false)", key, value)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a duration like 90s)", key, value)
	}
	return d, nil
}
