package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var errNoSecretData = errors.New("no secret data found in AWS Secrets Manager")

// SecretsOverlay represents the structure of secrets stored in AWS Secrets Manager
type SecretsOverlay struct {
	DatabasePassword string            `json:"database_password"`
	RedisPassword    string            `json:"redis_password"`
	ProviderAPIKeys  map[string]string `json:"provider_api_keys"`
}

// SecretsClient is the subset of the Secrets Manager API the overlay needs
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsClient builds a Secrets Manager client for a region using the default credential chain
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// FetchSecrets retrieves and decodes the secret document
func FetchSecrets(ctx context.Context, client SecretsClient, secretName string) (*SecretsOverlay, error) {
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret from AWS Secrets Manager: %w", err)
	}
	return parseSecretData(result)
}

func parseSecretData(result *secretsmanager.GetSecretValueOutput) (*SecretsOverlay, error) {
	var secrets SecretsOverlay
	switch {
	case result.SecretString != nil:
		if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
			return nil, fmt.Errorf("failed to parse secret JSON: %w", err)
		}
	case result.SecretBinary != nil:
		if err := json.Unmarshal(result.SecretBinary, &secrets); err != nil {
			return nil, fmt.Errorf("failed to parse secret binary: %w", err)
		}
	default:
		return nil, errNoSecretData
	}
	return &secrets, nil
}

// ApplySecrets overlays non-empty secrets onto the configuration
func ApplySecrets(cfg *Config, secrets *SecretsOverlay) {
	if secrets.DatabasePassword != "" {
		cfg.Database.Password = secrets.DatabasePassword
	}
	if secrets.RedisPassword != "" {
		cfg.Redis.Password = secrets.RedisPassword
	}
	for i, p := range cfg.Providers {
		if key := secrets.ProviderAPIKeys[p.Name]; key != "" {
			cfg.Providers[i].APIKey = key
		}
	}
}

// LoadSecretsFromAWS retrieves secrets from AWS Secrets Manager and overlays them onto the configuration
func LoadSecretsFromAWS(ctx context.Context, cfg *Config) error {
	if !cfg.Secrets.Enabled {
		return nil
	}

	client, err := NewSecretsClient(ctx, cfg.Secrets.Region)
	if err != nil {
		return err
	}

	secrets, err := FetchSecrets(ctx, client, cfg.Secrets.SecretName)
	if err != nil {
		return err
	}

	ApplySecrets(cfg, secrets)
	return nil
}
