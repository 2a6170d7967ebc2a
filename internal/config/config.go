package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "InterbankGateway"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultChainID          = 1337
	defaultVNDPerETH        = "1000"
	defaultBalanceTimeout   = 5 * time.Second
	defaultReceiptTimeout   = 60 * time.Second
	defaultReceiptPoll      = time.Second
	defaultWithdrawalDelay  = 2 * time.Second
	defaultSettlementGrace  = 15 * time.Second
	defaultOTPTTL           = 5 * time.Minute
	defaultOTPMaxPerMinute  = 5
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string

	RPCEndpoint string
	ChainID     int64
	GasPriceWei int64
	VNDPerETH   string

	// DemoMode lets a locally cached balance authorize spending when the
	// authoritative ledger cannot be reached.
	DemoMode bool

	BalanceTimeout      time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	WithdrawalDelay     time.Duration
	SettlementGrace     time.Duration

	SnapshotURL   string
	SnapshotPath  string
	DirectoryPath string

	OTPTTL          time.Duration
	OTPMaxPerMinute int

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		AppEnv:        getEnv("APP_ENV", defaultAppEnv),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RPCEndpoint:   os.Getenv("RPC_ENDPOINT"),
		VNDPerETH:     getEnv("VND_PER_ETH", defaultVNDPerETH),
		SnapshotURL:   os.Getenv("SNAPSHOT_URL"),
		SnapshotPath:  os.Getenv("SNAPSHOT_PATH"),
		DirectoryPath: os.Getenv("DIRECTORY_PATH"),
		DemoMode:      parseBoolWithDefault("DEMO_MODE", false),
	}

	var err error
	if cfg.ChainID, err = parseInt64("CHAIN_ID", defaultChainID); err != nil {
		return Config{}, err
	}
	if cfg.GasPriceWei, err = parseInt64("GAS_PRICE_WEI", 0); err != nil {
		return Config{}, err
	}
	otpMax, err := parseInt64("OTP_MAX_PER_MINUTE", defaultOTPMaxPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.OTPMaxPerMinute = int(otpMax)

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"BALANCE_TIMEOUT", defaultBalanceTimeout, &cfg.BalanceTimeout},
		{"RECEIPT_TIMEOUT", defaultReceiptTimeout, &cfg.ReceiptTimeout},
		{"RECEIPT_POLL_INTERVAL", defaultReceiptPoll, &cfg.ReceiptPollInterval},
		{"WITHDRAWAL_DELAY", defaultWithdrawalDelay, &cfg.WithdrawalDelay},
		{"SETTLEMENT_GRACE", defaultSettlementGrace, &cfg.SettlementGrace},
		{"OTP_TTL", defaultOTPTTL, &cfg.OTPTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL)
	if err != nil {
		return Config{}, err
	}

	if !cfg.IsDev() && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return parseDuration(durationKey, fallback)
}
