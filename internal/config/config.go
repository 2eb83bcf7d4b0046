package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                 string
	RedisURL             string
	HostRPCURL           string
	RequestTimeout       time.Duration
	GraphRefreshInterval time.Duration
	GraphMaxAge          time.Duration
	GraphRefreshBurst    int
	DefaultStrategy      constants.Strategy
	MaxRetries           int
	MaxParts             int
	MinPartAmount        lnwire.MilliSatoshi
	MaxCandidates        int
	MaxHops              int
	MaxFeePPM            uint64
	FinalCLTVDelta       uint32
	LogLevel             string
	LogFormat            string
}

// fileConfig is the optional YAML file named by BARQ_CONFIG. Environment
// variables take precedence over it.
type fileConfig struct {
	Port                 string `yaml:"port"`
	RedisURL             string `yaml:"redis_url"`
	HostRPCURL           string `yaml:"host_rpc_url"`
	RequestTimeout       string `yaml:"request_timeout"`
	GraphRefreshInterval string `yaml:"graph_refresh_interval"`
	GraphMaxAge          string `yaml:"graph_max_age"`
	GraphRefreshBurst    string `yaml:"graph_refresh_burst"`
	DefaultStrategy      string `yaml:"default_strategy"`
	MaxRetries           string `yaml:"max_retries"`
	MaxParts             string `yaml:"max_parts"`
	MinPartMsat          string `yaml:"min_part_msat"`
	MaxCandidates        string `yaml:"max_candidates"`
	MaxHops              string `yaml:"max_hops"`
	MaxFeePPM            string `yaml:"max_fee_ppm"`
	FinalCLTVDelta       string `yaml:"final_cltv_delta"`
	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"`
}

func Load() (*Config, error) {
	var file fileConfig
	if path := os.Getenv("BARQ_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	strategy, err := constants.ParseStrategy(getEnv("DEFAULT_STRATEGY", or(file.DefaultStrategy, "deterministic")))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_STRATEGY: %w", err)
	}

	return &Config{
		Port:                 getEnv("PORT", or(file.Port, "8080")),
		RedisURL:             getEnv("REDIS_URL", file.RedisURL),
		HostRPCURL:           getEnv("HOST_RPC_URL", or(file.HostRPCURL, "http://localhost:9835")),
		RequestTimeout:       parseDuration(getEnv("REQUEST_TIMEOUT", or(file.RequestTimeout, "5s")), 5*time.Second),
		GraphRefreshInterval: parseDuration(getEnv("GRAPH_REFRESH_INTERVAL", or(file.GraphRefreshInterval, "5m")), 5*time.Minute),
		GraphMaxAge:          parseDuration(getEnv("GRAPH_MAX_AGE", or(file.GraphMaxAge, "10m")), 10*time.Minute),
		GraphRefreshBurst:    parseInt(getEnv("GRAPH_REFRESH_BURST", file.GraphRefreshBurst), 2),
		DefaultStrategy:      strategy,
		MaxRetries:           parseInt(getEnv("MAX_RETRIES", file.MaxRetries), 5),
		MaxParts:             parseInt(getEnv("MAX_PARTS", file.MaxParts), 16),
		MinPartAmount:        lnwire.MilliSatoshi(parseUint(getEnv("MIN_PART_MSAT", file.MinPartMsat), 10_000)),
		MaxCandidates:        parseInt(getEnv("MAX_CANDIDATES", file.MaxCandidates), 3),
		MaxHops:              parseInt(getEnv("MAX_HOPS", file.MaxHops), 20),
		MaxFeePPM:            parseUint(getEnv("MAX_FEE_PPM", file.MaxFeePPM), 0),
		FinalCLTVDelta:       uint32(parseUint(getEnv("FINAL_CLTV_DELTA", file.FinalCLTVDelta), 18)),
		LogLevel:             getEnv("LOG_LEVEL", or(file.LogLevel, "info")),
		LogFormat:            getEnv("LOG_FORMAT", or(file.LogFormat, "text")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return duration
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseUint(s string, fallback uint64) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
