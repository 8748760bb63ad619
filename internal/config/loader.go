package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "EDGE_SCANNER"
	defaultConfigPath = "config/config.yaml"
)

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME}).
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional fields.
// A missing file is not an error; defaults and environment variables still apply.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := newViper()
	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "edge-scanner")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("scanner.strategies", []string{"arbitrage", "value_bet", "prop_scan"})
	v.SetDefault("scanner.scan_interval_ms", 60000)
	v.SetDefault("scanner.overlap_policy", OverlapSkip)
	v.SetDefault("scanner.sink_timeout", "5s")

	v.SetDefault("portfolio.max_positions", 10)
	v.SetDefault("portfolio.max_exposure", 0.25)
	v.SetDefault("portfolio.min_confidence", 0.6)
	v.SetDefault("portfolio.reference_bankroll", 1000)
	weights := DefaultScoreWeights()
	v.SetDefault("portfolio.weights.category", weights.Category)
	v.SetDefault("portfolio.weights.type", weights.Type)
	v.SetDefault("portfolio.weights.source", weights.Source)
	v.SetDefault("portfolio.weights.risk_confidence", weights.RiskConfidence)
	v.SetDefault("portfolio.weights.risk_kelly", weights.RiskKelly)

	v.SetDefault("extractors.arbitrage.min_margin", 0.005)
	v.SetDefault("extractors.arbitrage.confidence", 0.99)
	v.SetDefault("extractors.arbitrage.ttl", "10m")
	v.SetDefault("extractors.value_bet.min_edge", 0.03)
	v.SetDefault("extractors.value_bet.ttl", "30m")
	v.SetDefault("extractors.prop_scan.batch_size", 25)
	v.SetDefault("extractors.prop_scan.min_edge", 0.04)
	v.SetDefault("extractors.prop_scan.ttl", "1h")
	v.SetDefault("extractors.prop_scan.season_weight", 0.4)
	v.SetDefault("extractors.prop_scan.recent_weight", 0.35)
	v.SetDefault("extractors.prop_scan.projection_weight", 0.25)
	v.SetDefault("extractors.prop_scan.opponent_scale", 1.0)

	v.SetDefault("data_source.cache_ttl.odds", "5m")
	v.SetDefault("data_source.cache_ttl.stats", "15m")
	v.SetDefault("data_source.cache_ttl.props", "10m")
	v.SetDefault("data_source.cache_ttl.scores", "2m")
	v.SetDefault("data_source.timeouts.odds", "5s")
	v.SetDefault("data_source.timeouts.stats", "15s")
	v.SetDefault("data_source.timeouts.props", "8s")
	v.SetDefault("data_source.timeouts.scores", "3s")
	v.SetDefault("data_source.cache_cleanup", "10m")
	v.SetDefault("data_source.circuit_breaker_max", 5)
	v.SetDefault("data_source.circuit_cooldown", "30s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("redis.stream", "edge-scanner:scans")
	v.SetDefault("redis.max_length", 1000)

	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("model_service.health_timeout", "2s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
