// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults. The civil timezone is fixed: the source publishes rates for
// Venezuelan business days.
const (
	defaultPort      = "5000"
	defaultDataDir   = "data"
	defaultTimezone  = "America/Caracas"
	defaultFixedRate = 43.00
	defaultRetention = 30
)

// Config holds application configuration.
type Config struct {
	Port               string
	DataDir            string
	Timezone           string
	BCVURL             string
	P2PURL             string
	KeepaliveURL       string
	FixedReferenceRate float64
	HistoryRetention   int
	FetchTimeout       time.Duration
	LogLevel           string
}

// Load reads configuration from environment variables and a .env file if
// one is present. Environment variables win over the file.
func Load() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PORT", defaultPort)
	viper.SetDefault("DATA_DIR", defaultDataDir)
	viper.SetDefault("TIMEZONE", defaultTimezone)
	viper.SetDefault("BCV_URL", "")
	viper.SetDefault("P2P_URL", "")
	viper.SetDefault("KEEPALIVE_URL", "")
	viper.SetDefault("FIXED_REFERENCE_RATE", defaultFixedRate)
	viper.SetDefault("HISTORY_RETENTION", defaultRetention)
	viper.SetDefault("FETCH_TIMEOUT", "15s")
	viper.SetDefault("LOG_LEVEL", "INFO")

	viper.AutomaticEnv()

	cfg := &Config{
		Port:               viper.GetString("PORT"),
		DataDir:            viper.GetString("DATA_DIR"),
		Timezone:           viper.GetString("TIMEZONE"),
		BCVURL:             viper.GetString("BCV_URL"),
		P2PURL:             viper.GetString("P2P_URL"),
		KeepaliveURL:       viper.GetString("KEEPALIVE_URL"),
		FixedReferenceRate: viper.GetFloat64("FIXED_REFERENCE_RATE"),
		HistoryRetention:   viper.GetInt("HISTORY_RETENTION"),
		LogLevel:           viper.GetString("LOG_LEVEL"),
	}

	timeout, err := time.ParseDuration(viper.GetString("FETCH_TIMEOUT"))
	if err != nil || timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.FetchTimeout = timeout

	if cfg.FixedReferenceRate <= 0 {
		cfg.FixedReferenceRate = defaultFixedRate
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = defaultRetention
	}

	return cfg, nil
}
