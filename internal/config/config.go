// Package config loads internal/notaryd's runtime configuration: listen
// addresses, the storage directory, Cron tick interval, and mint
// parameters, layered defaults < .env file < process environment.
// Grounded on the teacher's params.LoadFromEnv (godotenv.Load, then
// os.Getenv overrides on a Default()).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is every knob internal/notaryd needs to start a notary process.
type Config struct {
	// ListenAddr is the REST/WS bind address pkg/notaryapi serves on.
	ListenAddr string
	// StorageDir is the Pebble database directory pkg/storage opens.
	StorageDir string
	// CronInterval is how often internal/notaryd ticks the Cron scheduler.
	CronInterval time.Duration
	// TradeInterval is the per-item process interval for Trades on Cron
	// (payment plans run at their own instrument's payment interval).
	TradeInterval time.Duration
	// MintSeries is the mint series number new cash requests are minted
	// against until an operator rolls it forward.
	MintSeries uint64
	// TokenValidDays is how long a freshly issued cash token remains
	// spendable before it expires.
	TokenValidDays int
	// CORSOrigins is the allow-list pkg/notaryapi's rs/cors middleware
	// serves, comma-separated in the environment.
	CORSOrigins []string
}

// Default returns the devnet defaults every override layers on top of.
func Default() Config {
	return Config{
		ListenAddr:     ":8420",
		StorageDir:     "./data",
		CronInterval:   10 * time.Second,
		TradeInterval:  10 * time.Second,
		MintSeries:     1,
		TokenValidDays: 30,
		CORSOrigins:    []string{"*"},
	}
}

// LoadFromEnv loads .env (if present) from envPath, or the current
// directory's .env when envPath is empty, then overrides Default with
// whichever of the recognized environment variables are set. Priority:
// process environment > .env file > Default.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("NOTARY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NOTARY_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("NOTARY_CRON_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.CronInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NOTARY_TRADE_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.TradeInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NOTARY_MINT_SERIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MintSeries = n
		}
	}
	if v := os.Getenv("NOTARY_TOKEN_VALID_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenValidDays = n
		}
	}
	if v := os.Getenv("NOTARY_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}

	return cfg
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
