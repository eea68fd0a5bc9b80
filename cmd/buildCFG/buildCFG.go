package buildCFG

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
)

type ServerConfig struct {
	Port         string
	Name         string
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ClicksConfig struct {
	Mode           string
	BatchSize      int
	FlushThreshold int64
	FlushDelay     time.Duration
	BufferTTL      time.Duration
	Retry          retry.Strategy
}

type CacheConfig struct {
	LinkTTL time.Duration
}

type GeoIPConfig struct {
	DatabasePath string
}

type AnalyticsConfig struct {
	Endpoint string
	Timeout  time.Duration
	Retry    retry.Strategy
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	serverName := cfg.GetString("server.name")
	writeTimeoutStr := cfg.GetString("server.write_timeout")

	writeTimeout, err := time.ParseDuration(writeTimeoutStr)
	if err != nil {
		log.Fatal().Msgf("invalid write_timeout value: %v", err)
	}

	log.Info().Msgf("Starting %s on port %s (timeout %s)", serverName, port, writeTimeout)

	return ServerConfig{
		Port:         port,
		Name:         serverName,
		WriteTimeout: writeTimeout,
	}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	dbHost := cfg.GetString("database.host")
	dbPortStr := cfg.GetString("database.port")
	dbPort, err := strconv.Atoi(dbPortStr)
	if err != nil {
		log.Error().Msgf("invalid database.port: %v", err)
		return "", nil, nil, fmt.Errorf("invalid database.port: %w", err)
	}

	dbName := cfg.GetString("database.name")
	dbUser := cfg.GetString("database.user")
	dbPass := cfg.GetString("database.password")
	sslMode := cfg.GetString("database.ssl_mode")

	maxOpenConnsStr := cfg.GetString("database.max_conns")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		log.Error().Msgf("invalid database.max_conns: %v", err)
		return "", nil, nil, fmt.Errorf("invalid database.max_conns: %w", err)
	}

	maxIdleConnsStr := cfg.GetString("database.max_idle_conns")
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		log.Error().Msgf("invalid database.max_idle_conns: %v", err)
		return "", nil, nil, fmt.Errorf("invalid database.max_idle_conns: %w", err)
	}

	connMaxLifetimeStr := cfg.GetString("database.max_conn_lifetime")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		log.Error().Msgf("invalid database.max_conn_lifetime: %v", err)
		return "", nil, nil, fmt.Errorf("invalid database.max_conn_lifetime: %w", err)
	}

	log.Info().Msgf("Database config: host=%s port=%d dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, sslMode)

	opts := &dbpg.Options{
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}

	masterDSN := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbHost, dbPort, dbUser, dbPass, dbName, sslMode,
	)
	slaveDSNs := []string{}

	return masterDSN, slaveDSNs, opts, nil
}

func BuildRedisConfig(cfg *config.Config, log *zerolog.Logger) (*RedisConfig, error) {
	addr := cfg.GetString("redis.addr")
	password := cfg.GetString("redis.password")
	dbStr := cfg.GetString("redis.db")

	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Error().Msgf("invalid redis.db value: %v", err)
		return nil, fmt.Errorf("invalid redis.db value: %w", err)
	}

	log.Info().Msgf("Redis config loaded: %s, db=%d", addr, db)

	return &RedisConfig{
		Addr:     addr,
		Password: password,
		DB:       db,
	}, nil
}

func BuildCacheConfig(cfg *config.Config, log *zerolog.Logger) (*CacheConfig, error) {
	ttlStr := cfg.GetString("cache.link_ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		log.Error().Msgf("invalid cache.link_ttl: %v", err)
		return nil, fmt.Errorf("invalid cache.link_ttl: %w", err)
	}

	return &CacheConfig{LinkTTL: ttl}, nil
}

func BuildClicksConfig(cfg *config.Config, log *zerolog.Logger) (*ClicksConfig, error) {
	mode := cfg.GetString("clicks.mode")

	batchSize, err := strconv.Atoi(cfg.GetString("clicks.batch_size"))
	if err != nil {
		log.Error().Msgf("invalid clicks.batch_size: %v", err)
		return nil, fmt.Errorf("invalid clicks.batch_size: %w", err)
	}

	threshold, err := strconv.ParseInt(cfg.GetString("clicks.flush_threshold"), 10, 64)
	if err != nil {
		log.Error().Msgf("invalid clicks.flush_threshold: %v", err)
		return nil, fmt.Errorf("invalid clicks.flush_threshold: %w", err)
	}

	flushDelay, err := time.ParseDuration(cfg.GetString("clicks.flush_delay"))
	if err != nil {
		log.Error().Msgf("invalid clicks.flush_delay: %v", err)
		return nil, fmt.Errorf("invalid clicks.flush_delay: %w", err)
	}

	bufferTTL, err := time.ParseDuration(cfg.GetString("clicks.buffer_ttl"))
	if err != nil {
		log.Error().Msgf("invalid clicks.buffer_ttl: %v", err)
		return nil, fmt.Errorf("invalid clicks.buffer_ttl: %w", err)
	}

	strat, err := buildRetryStrategy(cfg, "clicks")
	if err != nil {
		log.Error().Msgf("invalid clicks retry config: %v", err)
		return nil, err
	}

	log.Info().Msgf("Clicks config: mode=%s batch_size=%d threshold=%d", mode, batchSize, threshold)

	return &ClicksConfig{
		Mode:           mode,
		BatchSize:      batchSize,
		FlushThreshold: threshold,
		FlushDelay:     flushDelay,
		BufferTTL:      bufferTTL,
		Retry:          strat,
	}, nil
}

func BuildGeoIPConfig(cfg *config.Config) GeoIPConfig {
	return GeoIPConfig{
		DatabasePath: cfg.GetString("geoip.database_path"),
	}
}

func BuildAnalyticsConfig(cfg *config.Config, log *zerolog.Logger) (*AnalyticsConfig, error) {
	endpoint := cfg.GetString("analytics.endpoint")

	timeout, err := time.ParseDuration(cfg.GetString("analytics.timeout"))
	if err != nil {
		log.Error().Msgf("invalid analytics.timeout: %v", err)
		return nil, fmt.Errorf("invalid analytics.timeout: %w", err)
	}

	strat, err := buildRetryStrategy(cfg, "analytics")
	if err != nil {
		log.Error().Msgf("invalid analytics retry config: %v", err)
		return nil, err
	}

	return &AnalyticsConfig{
		Endpoint: endpoint,
		Timeout:  timeout,
		Retry:    strat,
	}, nil
}

func buildRetryStrategy(cfg *config.Config, section string) (retry.Strategy, error) {
	attempts, err := strconv.Atoi(cfg.GetString(section + ".retry_attempts"))
	if err != nil {
		return retry.Strategy{}, fmt.Errorf("invalid %s.retry_attempts: %w", section, err)
	}

	delay, err := time.ParseDuration(cfg.GetString(section + ".retry_delay"))
	if err != nil {
		return retry.Strategy{}, fmt.Errorf("invalid %s.retry_delay: %w", section, err)
	}

	backoff, err := strconv.Atoi(cfg.GetString(section + ".retry_backoff"))
	if err != nil {
		return retry.Strategy{}, fmt.Errorf("invalid %s.retry_backoff: %w", section, err)
	}

	return retry.Strategy{
		Attempts: attempts,
		Delay:    delay,
		Backoff:  float64(backoff),
	}, nil
}
