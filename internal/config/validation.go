package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Overlap policies for triggers that arrive while a scan is running
const (
	OverlapSkip  = "skip"
	OverlapQueue = "queue"
)

var (
	validStrategies    = map[string]bool{"arbitrage": true, "value_bet": true, "prop_scan": true}
	validResourceKinds = map[string]bool{"odds": true, "stats": true, "props": true, "scores": true}

	// kinds each strategy needs at least one enabled provider for
	strategyKinds = map[string][]string{
		"arbitrage": {"odds"},
		"value_bet": {"odds", "stats"},
		"prop_scan": {"props"},
	}
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("strategies", validateStrategies)
	_ = v.RegisterValidation("overlappolicy", validateOverlapPolicy)
	_ = v.RegisterValidation("resourcekinds", validateResourceKinds)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	if err := cv.validator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return validateCrossField(cfg)
}

func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validateOverlapPolicy(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case OverlapSkip, OverlapQueue:
		return true
	default:
		return false
	}
}

func validateStrategies(fl validator.FieldLevel) bool {
	return allIn(fl, validStrategies)
}

func validateResourceKinds(fl validator.FieldLevel) bool {
	return allIn(fl, validResourceKinds)
}

func allIn(fl validator.FieldLevel, allowed map[string]bool) bool {
	values, ok := fl.Field().Interface().([]string)
	if !ok || len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !allowed[v] {
			return false
		}
	}
	return true
}

// validateCrossField performs checks that span more than one field
func validateCrossField(cfg *Config) error {
	if cfg.IsProduction() && cfg.Database.Enabled && cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
	}

	w := cfg.Portfolio.Weights
	if !w.IsZero() {
		if sum := w.Category + w.Type + w.Source; math.Abs(sum-100) > 1e-9 {
			return fmt.Errorf("portfolio diversification weights must sum to 100, got %.2f", sum)
		}
		if sum := w.RiskConfidence + w.RiskKelly; math.Abs(sum-100) > 1e-9 {
			return fmt.Errorf("portfolio risk weights must sum to 100, got %.2f", sum)
		}
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}

	for _, strategy := range cfg.Scanner.Strategies {
		for _, kind := range strategyKinds[strategy] {
			if !hasEnabledProvider(cfg, kind) {
				return fmt.Errorf("strategy %s requires an enabled provider serving %q", strategy, kind)
			}
		}
	}

	return nil
}

func hasEnabledProvider(cfg *Config, kind string) bool {
	for _, p := range cfg.Providers {
		if p.Enabled && p.Supports(kind) {
			return true
		}
	}
	return false
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var errMsg string
	for _, fieldError := range validationErrors {
		field := fieldError.Namespace()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required", "required_if":
			errMsg += fmt.Sprintf("- Field '%s' is required\n", field)
		case "url":
			errMsg += fmt.Sprintf("- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "min", "max":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "strategies":
			errMsg += fmt.Sprintf("- Field '%s' must only contain: arbitrage, value_bet, prop_scan\n", field)
		case "overlappolicy":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: skip, queue\n", field)
		case "resourcekinds":
			errMsg += fmt.Sprintf("- Field '%s' must only contain: odds, stats, props, scores\n", field)
		case "oneof":
			errMsg += fmt.Sprintf("- Field '%s' has invalid value '%v'\n", field, value)
		default:
			errMsg += fmt.Sprintf("- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", errMsg)
}
