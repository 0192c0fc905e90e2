// Package config loads the rewards engine's process configuration from
// command-line flags, with environment variables (and an optional .env file)
// taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"

	defaultPort     = "8080"
	defaultCacheTTL = 30 * time.Second
)

type Config struct {
	Port        string
	DatabaseURL string // empty: in-memory store
	RedisURL    string // empty: no cache
	CacheTTL    time.Duration
	Migrate     bool

	LogFormat string
	Verbose   bool

	// Ledger identities.
	LedgerAddress       common.Address
	Owner               common.Address
	PositionManager     common.Address
	RewardsDistribution common.Address

	// RewardsDuration in seconds; zero means the ledger default.
	RewardsDuration uint64

	// EnableMint exposes the owner-only mint endpoint on the in-memory
	// reward token. Development only.
	EnableMint bool
}

// Load parses args (typically os.Args[1:]) and applies environment
// overrides. A .env file in the working directory is loaded first if present.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	fs := flag.NewFlagSet("rewards-engine", flag.ContinueOnError)
	port := fs.String("port", defaultPort, "HTTP listen port (or set PORT env var)")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection string (or set DATABASE_URL env var)")
	redisURL := fs.String("redis-url", "", "Redis URL for the read-through cache (or set REDIS_URL env var)")
	cacheTTL := fs.Duration("cache-ttl", defaultCacheTTL, "Redis cache TTL")
	migrate := fs.Bool("migrate", true, "Run database migrations using goose on startup")
	logFormat := fs.String("log-format", LogFormatJSON, "Log format: json or text (or set LOG_FORMAT env var)")
	verbose := fs.Bool("verbose", false, "enable verbose (debug) logging")
	ledgerAddr := fs.String("ledger-address", "", "Ledger's own reward-token holder address (or set LEDGER_ADDRESS env var)")
	owner := fs.String("owner", "", "Owner address (or set OWNER_ADDRESS env var)")
	positionManager := fs.String("position-manager", "", "Position manager address (or set POSITION_MANAGER_ADDRESS env var)")
	distribution := fs.String("rewards-distribution", "", "Rewards distribution address (or set REWARDS_DISTRIBUTION_ADDRESS env var)")
	duration := fs.Uint64("rewards-duration", 0, "Rewards period length in seconds, 0 for the 7 day default (or set REWARDS_DURATION env var)")
	enableMint := fs.Bool("enable-mint", false, "Expose the owner-only reward token mint endpoint (development only)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	overrideString(port, "PORT")
	overrideString(databaseURL, "DATABASE_URL")
	overrideString(redisURL, "REDIS_URL")
	overrideString(logFormat, "LOG_FORMAT")
	overrideString(ledgerAddr, "LEDGER_ADDRESS")
	overrideString(owner, "OWNER_ADDRESS")
	overrideString(positionManager, "POSITION_MANAGER_ADDRESS")
	overrideString(distribution, "REWARDS_DISTRIBUTION_ADDRESS")
	if os.Getenv("VERBOSE") == "true" {
		*verbose = true
	}
	if v := os.Getenv("REWARDS_DURATION"); v != "" {
		d, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: REWARDS_DURATION: %w", err)
		}
		*duration = d
	}

	cfg := &Config{
		Port:            *port,
		DatabaseURL:     *databaseURL,
		RedisURL:        *redisURL,
		CacheTTL:        *cacheTTL,
		Migrate:         *migrate,
		LogFormat:       *logFormat,
		Verbose:         *verbose,
		RewardsDuration: *duration,
		EnableMint:      *enableMint,
	}

	var err error
	if cfg.LedgerAddress, err = parseAddress("ledger-address", *ledgerAddr); err != nil {
		return nil, err
	}
	if cfg.Owner, err = parseAddress("owner", *owner); err != nil {
		return nil, err
	}
	if cfg.PositionManager, err = parseAddress("position-manager", *positionManager); err != nil {
		return nil, err
	}
	if cfg.RewardsDistribution, err = parseAddress("rewards-distribution", *distribution); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	switch c.LogFormat {
	case "":
		c.LogFormat = LogFormatJSON
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.LedgerAddress == (common.Address{}) {
		return errors.New("config: --ledger-address is required")
	}
	if c.Owner == (common.Address{}) {
		return errors.New("config: --owner is required")
	}
	if c.PositionManager == (common.Address{}) {
		return errors.New("config: --position-manager is required")
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return errors.New("config: --redis-url requires --database-url")
	}
	return nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func parseAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("config: --%s: %q is not a hex address", name, s)
	}
	return common.HexToAddress(s), nil
}
