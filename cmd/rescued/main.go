package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/api"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
	"github.com/rescuewatch/rescue-monitor/internal/biz/usecase"
	"github.com/rescuewatch/rescue-monitor/internal/conf"
	"github.com/rescuewatch/rescue-monitor/internal/data"
	"github.com/rescuewatch/rescue-monitor/internal/infra/mqtt"
	"github.com/rescuewatch/rescue-monitor/internal/infra/nats"
	"github.com/rescuewatch/rescue-monitor/internal/infra/power"
	"github.com/rescuewatch/rescue-monitor/internal/logging"
	"github.com/rescuewatch/rescue-monitor/internal/metrics"
	"github.com/rescuewatch/rescue-monitor/internal/server"
	"github.com/rescuewatch/rescue-monitor/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.Must(cfg.Debug)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("rescue monitor stopped", zap.Error(err))
	}
}

func run(cfg *conf.Config, logger *zap.Logger) error {
	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(registry, "rescue")

	// Initialize repository layer
	repos, err := data.NewRepositories(cfg.ToDataOptions(), logger)
	if err != nil {
		return fmt.Errorf("create repositories: %w", err)
	}
	defer repos.Close()
	logger.Info("session store opened", zap.String("path", cfg.DBPath))

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	// Initialize usecase layer
	dedup := usecase.NewDedupCache(cfg.DedupTTL)
	sessionUC := usecase.NewSessionUsecase(repos.Session, logger)
	claimUC := usecase.NewClaimUsecase(usecase.ClaimDeps{
		Offers:   repos.Offers,
		Metadata: repos.Metadata,
		Notifier: repos.Notifier,
		Tokens:   repos.Tokens,
		Claims:   repos.Claims,
		Sessions: sessionUC,
		Dedup:    dedup,
		Metrics:  collector,
	}, cfg.ToClaimConfig(), logger)

	// Initialize service layer
	manager := service.NewConnectionManager(transport, repos.Credentials, claimUC.OnMessage, collector, logger, service.ConnectionOptions{})
	supervisor := service.NewSupervisor(service.SupervisorDeps{
		Sessions: sessionUC,
		Claims:   claimUC,
		Dedup:    dedup,
		Manager:  manager,
		Provider: repos.Credentials,
		Resource: power.NewFileLock(cfg.LockPath, logger),
		Metrics:  collector,
	}, cfg.Heartbeat, logger)

	// HTTP API for rescuectl and rescue-mcp
	apiServer := api.NewServer(supervisor, repos.Claims, registry, cfg.Location, cfg.APIPort, logger)

	cityID := cfg.Broker.CityID
	srv := server.NewRescueServer(supervisor, apiServer, cfg.Location, cityID, logger)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rescue monitor",
		zap.String("broker", cfg.Broker.Kind),
		zap.Int("api_port", cfg.APIPort))
	return srv.Run(ctx, func() (context.Context, context.CancelFunc) {
		logger.Info("shutting down")
		return context.WithTimeout(context.Background(), shutdownTimeout)
	})
}

func newTransport(cfg *conf.Config, logger *zap.Logger) (repo.BrokerTransport, error) {
	nodeID := int64(os.Getpid() % 1024)
	switch strings.ToLower(cfg.Broker.Kind) {
	case "nats":
		t, err := nats.NewTransport("rescue-monitor", nodeID, cfg.Broker.InsecureTLS, logger)
		if err != nil {
			return nil, fmt.Errorf("create nats transport: %w", err)
		}
		return t, nil
	default:
		t, err := mqtt.NewTransport(mqtt.Config{
			NodeID:      nodeID,
			InsecureTLS: cfg.Broker.InsecureTLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create mqtt transport: %w", err)
		}
		return t, nil
	}
}
