// Package config loads runtime settings from the environment and the
// token catalogue from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"trade-inputs/client"
	"trade-inputs/marketdata"
	"trade-inputs/reconciler"
)

// Config is the full runtime configuration.
type Config struct {
	API        client.Config
	Feed       marketdata.Config
	Leverage   reconciler.LeverageBounds
	TokensFile string
}

// DefaultConfig returns settings that work against the public endpoints
// with the built-in token catalogue.
func DefaultConfig() Config {
	return Config{
		API:      client.DefaultConfig(),
		Feed:     marketdata.DefaultConfig(),
		Leverage: reconciler.DefaultLeverageBounds(),
	}
}

// Load overlays the given .env files (or ./.env when none are given) onto
// the process environment and reads the configuration from it. A missing
// default .env is not an error; a malformed one is.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Overload(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv reads the configuration from environment variables on top
// of DefaultConfig. Unparseable numbers keep their defaults.
func LoadFromEnv() (Config, error) {
	config := DefaultConfig()

	if apiURL := os.Getenv("TRADING_API_URL"); apiURL != "" {
		config.API.BaseURL = strings.TrimSpace(apiURL)
	}

	if privateKey := os.Getenv("WALLET_PRIVATE_KEY"); privateKey != "" {
		trimmedKey := strings.TrimSpace(privateKey)
		trimmedKey = strings.Trim(trimmedKey, "\"")
		trimmedKey = strings.Trim(trimmedKey, "'")
		config.API.PrivateKeyHex = trimmedKey
	}

	if rps := os.Getenv("TRADING_API_RATE_LIMIT"); rps != "" {
		if val, err := strconv.Atoi(rps); err == nil && val > 0 {
			config.API.RateLimitRPS = val
		}
	}

	if wsURL := os.Getenv("PRICE_FEED_WS_URL"); wsURL != "" {
		config.Feed.WSURL = strings.TrimSpace(wsURL)
	}

	if maxAge := os.Getenv("PRICE_MAX_AGE"); maxAge != "" {
		if val, err := time.ParseDuration(maxAge); err == nil {
			config.Feed.PriceMaxAge = val
		}
	}

	if minLev := os.Getenv("LEVERAGE_MIN"); minLev != "" {
		if val, err := decimal.NewFromString(minLev); err == nil {
			config.Leverage.Min = val
		}
	}

	if maxLev := os.Getenv("LEVERAGE_MAX"); maxLev != "" {
		if val, err := decimal.NewFromString(maxLev); err == nil {
			config.Leverage.Max = val
		}
	}

	if step := os.Getenv("LEVERAGE_STEP"); step != "" {
		if val, err := decimal.NewFromString(step); err == nil {
			config.Leverage.Step = val
		}
	}

	if tokensFile := os.Getenv("TOKENS_FILE"); tokensFile != "" {
		config.TokensFile = strings.TrimSpace(tokensFile)
	}

	if err := config.Leverage.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Catalog loads the token catalogue named by TokensFile, or the built-in
// one when no file is configured.
func (c Config) Catalog() (TokenCatalog, error) {
	if c.TokensFile == "" {
		return DefaultTokenCatalog(), nil
	}
	return LoadTokenCatalog(c.TokensFile)
}
