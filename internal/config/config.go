// Package config provides configuration management for the edge scanner.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app" validate:"required"`
	Scanner      ScannerConfig      `mapstructure:"scanner" validate:"required"`
	Portfolio    PortfolioConfig    `mapstructure:"portfolio" validate:"required"`
	Extractors   ExtractorsConfig   `mapstructure:"extractors" validate:"required"`
	DataSource   DataSourceConfig   `mapstructure:"data_source" validate:"required"`
	Providers    []ProviderConfig   `mapstructure:"providers" validate:"required,min=1,dive"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	ModelService ModelServiceConfig `mapstructure:"model_service"`
	Metrics      MetricsConfig      `mapstructure:"metrics" validate:"required"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// ScannerConfig controls what a scan cycle covers and how often it runs
type ScannerConfig struct {
	Sports         []string `mapstructure:"sports" validate:"required,min=1"`
	Strategies     []string `mapstructure:"strategies" validate:"required,min=1,strategies"`
	ScanIntervalMs int      `mapstructure:"scan_interval_ms" validate:"required,gte=1000"`
	OverlapPolicy  string   `mapstructure:"overlap_policy" validate:"required,overlappolicy"`
	ScanOnStart    bool     `mapstructure:"scan_on_start"`

	// SinkTimeout bounds each result sink publish; zero uses the scanner default
	SinkTimeout time.Duration `mapstructure:"sink_timeout" validate:"gte=0"`
}

// ScanInterval returns the trigger period as a duration
func (s ScannerConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalMs) * time.Millisecond
}

// PortfolioConfig represents portfolio selection limits and scoring weights
type PortfolioConfig struct {
	MaxPositions      int          `mapstructure:"max_positions" validate:"required,gt=0"`
	MaxExposure       float64      `mapstructure:"max_exposure" validate:"required,gt=0,lte=1"`
	MinConfidence     float64      `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	ReferenceBankroll float64      `mapstructure:"reference_bankroll" validate:"required,gt=0"`
	Weights           ScoreWeights `mapstructure:"weights"`
}

// ScoreWeights are the heuristic weights behind the aggregate portfolio scores
type ScoreWeights struct {
	Category       float64 `mapstructure:"category" validate:"gte=0"`
	Type           float64 `mapstructure:"type" validate:"gte=0"`
	Source         float64 `mapstructure:"source" validate:"gte=0"`
	RiskConfidence float64 `mapstructure:"risk_confidence" validate:"gte=0"`
	RiskKelly      float64 `mapstructure:"risk_kelly" validate:"gte=0"`
}

// DefaultScoreWeights returns the 40/30/30 diversification and 50/50 risk split
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Category: 40, Type: 30, Source: 30, RiskConfidence: 50, RiskKelly: 50}
}

// IsZero reports whether no weight has been configured
func (w ScoreWeights) IsZero() bool {
	return w == ScoreWeights{}
}

// ExtractorsConfig holds the per-strategy thresholds
type ExtractorsConfig struct {
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	ValueBet  ValueBetConfig  `mapstructure:"value_bet"`
	PropScan  PropScanConfig  `mapstructure:"prop_scan"`
}

// ArbitrageConfig configures the cross-source arbitrage extractor
type ArbitrageConfig struct {
	MinMargin  float64       `mapstructure:"min_margin" validate:"gte=0,lt=1"`
	Confidence float64       `mapstructure:"confidence" validate:"gte=0,lte=1"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// ValueBetConfig configures the projection-vs-market extractor
type ValueBetConfig struct {
	MinEdge float64       `mapstructure:"min_edge" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// PropScanConfig configures the player prop scanner
type PropScanConfig struct {
	BatchSize     int           `mapstructure:"batch_size" validate:"gte=0"`
	MinEdge       float64       `mapstructure:"min_edge" validate:"gte=0"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	SeasonWeight  float64       `mapstructure:"season_weight" validate:"gte=0"`
	RecentWeight  float64       `mapstructure:"recent_weight" validate:"gte=0"`
	ProjWeight    float64       `mapstructure:"projection_weight" validate:"gte=0"`
	OpponentScale float64       `mapstructure:"opponent_scale" validate:"gte=0"`
}

// DataSourceConfig configures caching and timeouts shared by all providers
type DataSourceConfig struct {
	CacheTTL          KindDurations `mapstructure:"cache_ttl"`
	Timeouts          KindDurations `mapstructure:"timeouts"`
	CacheCleanup      time.Duration `mapstructure:"cache_cleanup" validate:"gte=0"`
	CircuitBreakerMax int           `mapstructure:"circuit_breaker_max" validate:"gte=0"`
	CircuitCooldown   time.Duration `mapstructure:"circuit_cooldown" validate:"gte=0"`
}

// KindDurations assigns a duration to each resource kind
type KindDurations struct {
	Odds   time.Duration `mapstructure:"odds" validate:"gte=0"`
	Stats  time.Duration `mapstructure:"stats" validate:"gte=0"`
	Props  time.Duration `mapstructure:"props" validate:"gte=0"`
	Scores time.Duration `mapstructure:"scores" validate:"gte=0"`
}

// For returns the duration configured for a resource kind, or zero
func (k KindDurations) For(kind string) time.Duration {
	switch kind {
	case "odds":
		return k.Odds
	case "stats":
		return k.Stats
	case "props":
		return k.Props
	case "scores":
		return k.Scores
	default:
		return 0
	}
}

// ProviderConfig represents a single external data provider
type ProviderConfig struct {
	Name              string            `mapstructure:"name" validate:"required"`
	Enabled           bool              `mapstructure:"enabled"`
	BaseURL           string            `mapstructure:"base_url" validate:"required,url"`
	APIKey            string            `mapstructure:"api_key"`
	APIKeyParam       string            `mapstructure:"api_key_param"`
	Kinds             []string          `mapstructure:"kinds" validate:"required,min=1,resourcekinds"`
	Paths             map[string]string `mapstructure:"paths"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int               `mapstructure:"burst" validate:"gte=0"`
	MaxRetries        int               `mapstructure:"max_retries" validate:"gte=0"`
	QuotaLimit        int               `mapstructure:"quota_limit" validate:"gte=0"`
	QuotaWindow       time.Duration     `mapstructure:"quota_window" validate:"gte=0"`
}

// Supports reports whether the provider serves a resource kind
func (p ProviderConfig) Supports(kind string) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name           string `mapstructure:"name" validate:"required_if=Enabled true"`
	User           string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"gte=0"`

	// Retention bounds how long scan history is kept; zero keeps everything
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// RedisConfig configures the scan result stream publisher
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address" validate:"required_if=Enabled true"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	Stream    string `mapstructure:"stream"`
	MaxLength int64  `mapstructure:"max_length" validate:"gte=0"`
}

// ServerConfig configures the read-only API and health servers
type ServerConfig struct {
	APIPort        int      `mapstructure:"api_port" validate:"required,min=1,max=65535"`
	HealthPort     int      `mapstructure:"health_port" validate:"required,min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ModelServiceConfig points at the optional projection model service
type ModelServiceConfig struct {
	GRPCAddress   string        `mapstructure:"grpc_address"`
	HealthTimeout time.Duration `mapstructure:"health_timeout" validate:"gte=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required"`
}

// SecretsConfig enables the AWS Secrets Manager overlay
type SecretsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region" validate:"required_if=Enabled true"`
	SecretName string `mapstructure:"secret_name" validate:"required_if=Enabled true"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// EnabledProviders returns the providers that are switched on
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
