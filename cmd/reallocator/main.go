package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridianfi/reallocator/internal/bank"
	"github.com/meridianfi/reallocator/internal/config"
	"github.com/meridianfi/reallocator/internal/engine"
	"github.com/meridianfi/reallocator/internal/keeper"
	"github.com/meridianfi/reallocator/internal/ledger"
	"github.com/meridianfi/reallocator/internal/logger"
	"github.com/meridianfi/reallocator/internal/oracle"
	"github.com/meridianfi/reallocator/internal/state"
	"github.com/meridianfi/reallocator/internal/types"
	"github.com/meridianfi/reallocator/internal/venue"
	"github.com/meridianfi/reallocator/internal/web"
)

func main() {
	root := &cobra.Command{
		Use:   "reallocator",
		Short: "Position-based capital reallocation engine",
	}
	root.AddCommand(serveCmd(), resetDBCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reallocator service: instruction API, keeper loop, event persistence",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Capital Reallocator starting...")

	// Event persistence is optional: without DB config the service runs
	// with log-only events.
	withDB := os.Getenv("DB_HOST") != ""
	if withDB {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("DB_HOST not set, running without event persistence")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Collaborator Initialization ---
	// The token bank and both venues are in-memory simulations in every
	// mode; live adapters are not wired yet. Mode only selects the feed.
	log.Warn().Msg("Token bank and venues are simulated, balances reset on restart")

	var feed oracle.PriceFeed
	if config.Mode == "sim" {
		log.Warn().Msg("Running in SIM mode: prices come from the manual feed API")
		feed = oracle.NewManualFeed()
	} else {
		streaming, err := oracle.NewStreamingFeed(ctx, config.OracleWSEndpoint, []string{config.OracleFeedID})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to price stream")
		}
		defer streaming.Close()
		feed = streaming
	}

	keeperAddr, err := types.ParseAddress(config.KeeperAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid KEEPER_ADDRESS")
	}
	feeRecipient, err := types.ParseAddress(config.FeeRecipient)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid FEE_RECIPIENT")
	}

	var events engine.EventSink = engine.NewLogSink()
	if withDB {
		events = engine.MultiSink{engine.NewLogSink(), state.NewDBEventSink()}
	}

	eng, err := engine.New(engine.Config{
		Registry:     ledger.NewMemoryRegistry(),
		Bank:         bank.NewMemoryBank(),
		LPVenue:      venue.NewSimLiquidityVenue(),
		LendingVenue: venue.NewSimLendingVenue(),
		Oracle:       feed,
		FeedID:       config.OracleFeedID,
		Events:       events,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	if err := eng.InitializeProtocol(ctx, feeRecipient, keeperAddr, config.ProtocolFeeBps); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize protocol")
	}

	// --- 3. Serve ---
	webServer := web.NewWebServer(config.WebPort, eng, withDB)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting instruction API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
		}
	}()

	keeper.New(eng, keeperAddr, config.KeeperInterval).Run(ctx)
	log.Info().Msg("Shutdown complete")
}

func resetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate the event tables",
		Run: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
			}
			logger.Initialize(os.Getenv("LOG_LEVEL"))

			dbCfg := state.DBConfig{
				Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
				User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
				DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
			}
			if err := state.InitDB(dbCfg); err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize database")
			}
			defer state.CloseDB()

			if err := state.ResetSchema(); err != nil {
				log.Fatal().Err(err).Msg("Failed to reset schema")
			}
			log.Info().Msg("Database schema reset")
		},
	}
}

func mustAtoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
