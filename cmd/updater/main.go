// Package main runs the beacon oracle updater: a scheduler that keeps the
// oracle contract's checkpoint record in step with the chain, signing update
// transactions through AWS KMS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/beaconops/oracle-updater/internal/adapters/outbound/ethrpc"
	kmsadapter "github.com/beaconops/oracle-updater/internal/adapters/outbound/kms"
	"github.com/beaconops/oracle-updater/internal/adapters/outbound/memory"
	snsadapter "github.com/beaconops/oracle-updater/internal/adapters/outbound/sns"
	"github.com/beaconops/oracle-updater/internal/adapters/outbound/telemetry"
	"github.com/beaconops/oracle-updater/internal/application"
	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/pkg/env"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
	"github.com/beaconops/oracle-updater/internal/services/shared"
)

const serviceVersion = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	rpcURL        string
	oracleAddress common.Address
	blockInterval uint64
	chainID       *big.Int

	accessKey       string
	secretAccessKey string
	keyID           string
	region          string

	cycleInterval time.Duration
	rpcRateLimit  uint64
	snsTopicARN   string
	otlpEndpoint  string
}

// loadConfig reads and validates the environment. All validation failures
// are reported together so a broken deployment surfaces every problem at
// once.
func loadConfig() (appConfig, error) {
	var cfg appConfig
	var errs []error

	collect := func(key string) string {
		value, err := env.Require(key)
		if err != nil {
			errs = append(errs, err)
		}
		return value
	}

	cfg.rpcURL = collect("RPC_URL")
	cfg.accessKey = collect("ACCESS_KEY")
	cfg.secretAccessKey = collect("SECRET_ACCESS_KEY")
	cfg.keyID = collect("KEY_ID")
	cfg.region = collect("REGION")

	if raw := collect("CONTRACT_ADDRESS"); raw != "" {
		if !common.IsHexAddress(raw) {
			errs = append(errs, fmt.Errorf("CONTRACT_ADDRESS must be a 20-byte hex address, got %q", raw))
		} else {
			cfg.oracleAddress = common.HexToAddress(raw)
		}
	}

	if interval, err := env.RequireUint("BLOCK_INTERVAL"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.blockInterval = interval
	}

	if chainID, err := env.RequireUint("CHAIN_ID"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.chainID = new(big.Int).SetUint64(chainID)
	}

	cfg.cycleInterval = time.Duration(env.GetUint("CYCLE_INTERVAL_SECONDS", 60)) * time.Second
	cfg.rpcRateLimit = env.GetUint("RPC_RATE_LIMIT", 10)
	cfg.snsTopicARN = env.Get("SNS_TOPIC_ARN", "")
	cfg.otlpEndpoint = env.Get("OTLP_ENDPOINT", "")

	if len(errs) > 0 {
		return appConfig{}, &entity.ConfigError{Err: errors.Join(errs...)}
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting beacon oracle updater",
		"oracle", cfg.oracleAddress.Hex(),
		"chainId", cfg.chainID,
		"blockInterval", cfg.blockInterval,
		"cycleInterval", cfg.cycleInterval)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.accessKey, cfg.secretAccessKey, ""),
		),
	)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "oracle-updater",
		ServiceVersion: serviceVersion,
		Environment:    env.Get("ENVIRONMENT", "production"),
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	metrics, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}

	var sink outbound.EventSink
	if cfg.snsTopicARN != "" {
		sink, err = snsadapter.NewEventSinkFromConfig(awsCfg, snsadapter.Config{
			TopicARN: cfg.snsTopicARN,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("creating SNS sink: %w", err)
		}
		logger.Info("publishing checkpoint events", "topic", cfg.snsTopicARN)
	} else {
		sink = memory.NewEventSink()
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing event sink failed", "error", err)
		}
	}()

	newChain := func(ctx context.Context) (outbound.ChainClient, error) {
		return ethrpc.Dial(ctx, ethrpc.Config{
			Endpoint:          cfg.rpcURL,
			RequestsPerSecond: float64(cfg.rpcRateLimit),
			Logger:            logger,
		})
	}
	newSigner := func(ctx context.Context) (outbound.TransactionSigner, error) {
		return kmsadapter.NewSigner(ctx, awsCfg, kmsadapter.Config{
			KeyID:  cfg.keyID,
			Logger: logger,
		})
	}

	updaterConfig := application.UpdaterConfigDefaults()
	updaterConfig.OracleAddress = cfg.oracleAddress
	updaterConfig.CycleInterval = cfg.cycleInterval
	updaterConfig.Reconciler.BlockInterval = cfg.blockInterval
	updaterConfig.Reconciler.ChainID = cfg.chainID
	updaterConfig.Logger = logger

	updater, err := application.NewUpdaterService(newChain, newSigner, sink, metrics, updaterConfig)
	if err != nil {
		return fmt.Errorf("creating updater service: %w", err)
	}

	if err := updater.Start(ctx); err != nil {
		return fmt.Errorf("starting updater service: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	updater.Stop()
	return nil
}
