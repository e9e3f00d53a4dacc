// Package config loads service configuration from a YAML file, environment
// variables, and (optionally) AWS SSM Parameter Store.
//
// Search order for the config file: --config flag, ./metascan.yaml,
// $HOME/.metascan/metascan.yaml. Every field can be overridden with a
// METASCAN_* environment variable (e.g. METASCAN_GEMINI_API_KEY).
//
// When SSMPrefix is set, API keys that are still empty after file/env
// resolution are read from Parameter Store under that prefix
// ({prefix}/gemini-api-key, {prefix}/opencage-api-key,
// {prefix}/firebase-api-key).
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the metascan server.
type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`

	GeminiAPIKey   string `mapstructure:"gemini_api_key"`
	GeminiModel    string `mapstructure:"gemini_model"`
	OpenCageAPIKey string `mapstructure:"opencage_api_key"`
	FirebaseAPIKey string `mapstructure:"firebase_api_key"`

	HistoryTable string `mapstructure:"history_table"`
	AWSRegion    string `mapstructure:"aws_region"`

	// SSMPrefix enables loading missing API keys from Parameter Store.
	SSMPrefix string `mapstructure:"ssm_prefix"`
}

// Load reads configuration from the given file path (empty = search
// defaults), applies environment overrides, and resolves SSM secrets.
func Load(ctx context.Context, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("history_table", "metascan-history")
	v.SetDefault("aws_region", "us-east-1")

	v.SetEnvPrefix("METASCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so
	// bind every field explicitly or env-only secrets never surface.
	for _, key := range []string{
		"addr",
		"log_level",
		"gemini_api_key",
		"gemini_model",
		"opencage_api_key",
		"firebase_api_key",
		"history_table",
		"aws_region",
		"ssm_prefix",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("metascan")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".metascan"))
		}
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; env vars and defaults still apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SSMPrefix != "" {
		if err := cfg.loadSSMSecrets(ctx); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("addr", cfg.Addr).
		Str("model", cfg.GeminiModel).
		Str("table", cfg.HistoryTable).
		Bool("gemini_key", cfg.GeminiAPIKey != "").
		Bool("opencage_key", cfg.OpenCageAPIKey != "").
		Bool("firebase_key", cfg.FirebaseAPIKey != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// loadSSMSecrets fills in any API key that is still empty from Parameter
// Store. Parameters are stored as SecureString under the configured prefix.
func (c *Config) loadSSMSecrets(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.AWSRegion))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	client := ssm.NewFromConfig(awsCfg)

	params := []struct {
		name string
		dst  *string
	}{
		{"gemini-api-key", &c.GeminiAPIKey},
		{"opencage-api-key", &c.OpenCageAPIKey},
		{"firebase-api-key", &c.FirebaseAPIKey},
	}

	prefix := strings.TrimSuffix(c.SSMPrefix, "/")
	for _, p := range params {
		if *p.dst != "" {
			continue
		}
		name := prefix + "/" + p.name
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			log.Warn().Err(err).Str("parameter", name).Msg("SSM parameter not available")
			continue
		}
		if out.Parameter != nil && out.Parameter.Value != nil {
			*p.dst = *out.Parameter.Value
			log.Debug().Str("parameter", name).Msg("Secret loaded from SSM")
		}
	}
	return nil
}
