package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianfi/reallocator/internal/protocol"
)

// AppConfig holds all application configuration loaded from environment
// variables. These are populated at startup by LoadConfig.
var (
	// Mode selects the deployment mode: "sim" runs against in-memory
	// venues and bank.
	Mode string

	// WebPort is the HTTP port for the instruction API and dashboard.
	WebPort string

	// OracleWSEndpoint is the websocket endpoint of the streaming price
	// service. Empty in sim mode.
	OracleWSEndpoint string
	// OracleFeedID is the feed identifier for the token pair's USD price.
	OracleFeedID string

	// KeeperAddress is the base58 address authorized to run batch
	// rebalances.
	KeeperAddress string
	// KeeperInterval is how often the keeper sweeps open positions.
	KeeperInterval time.Duration

	// FeeRecipient is the base58 address receiving protocol fees.
	FeeRecipient string
	// ProtocolFeeBps is the protocol fee in basis points.
	ProtocolFeeBps uint16
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required unless noted.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("REALLOCATOR_MODE")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	OracleFeedID, err = getEnv("ORACLE_FEED_ID")
	if err != nil {
		return err
	}
	OracleWSEndpoint = os.Getenv("ORACLE_WS_ENDPOINT")
	if Mode != "sim" && OracleWSEndpoint == "" {
		return errors.New("environment variable ORACLE_WS_ENDPOINT is required outside sim mode")
	}

	KeeperAddress, err = getEnv("KEEPER_ADDRESS")
	if err != nil {
		return err
	}

	intervalSecs, err := getEnvAsUint64("KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	KeeperInterval = time.Duration(intervalSecs) * time.Second

	FeeRecipient, err = getEnv("FEE_RECIPIENT")
	if err != nil {
		return err
	}

	feeBps, err := getEnvAsUint64("PROTOCOL_FEE_BPS")
	if err != nil {
		return err
	}
	if feeBps > protocol.MaxFeeBps {
		return errors.New("environment variable PROTOCOL_FEE_BPS must be at most " + strconv.FormatUint(protocol.MaxFeeBps, 10))
	}
	ProtocolFeeBps = uint16(feeBps)

	log.Debug().
		Str("Mode", Mode).
		Str("WebPort", WebPort).
		Str("OracleFeedID", OracleFeedID).
		Dur("KeeperInterval", KeeperInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
