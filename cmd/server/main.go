// server runs the ingestion HTTP API and the gRPC health service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/audit"
	authservice "telemetry-ingest/backend/internal/auth/service"
	"telemetry-ingest/backend/internal/config"
	healthhandler "telemetry-ingest/backend/internal/health/handler"
	ingestservice "telemetry-ingest/backend/internal/ingest/service"
	"telemetry-ingest/backend/internal/logging"
	"telemetry-ingest/backend/internal/origin"
	"telemetry-ingest/backend/internal/security"
	"telemetry-ingest/backend/internal/server"
	mw "telemetry-ingest/backend/internal/server/middleware"
	"telemetry-ingest/backend/internal/telemetry"
	telemetryotel "telemetry-ingest/backend/internal/telemetry/otel"
	"telemetry-ingest/backend/internal/telemetry/producer"
	txnservice "telemetry-ingest/backend/internal/transaction/service"
)

func main() {
	runMigrations := flag.Bool("migrate", false, "apply pending database migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	err = run(cfg, *runMigrations, logger)
	if err != nil {
		logger.Error("server exited", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, runMigrations bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	st, err := openStores(ctx, cfg, runMigrations, hasher, logger)
	if err != nil {
		return fmt.Errorf("stores: %w", err)
	}
	defer st.Close()

	policy, err := origin.NewPolicy(ctx)
	if err != nil {
		return err
	}

	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.KafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info("publishing batch records to kafka", zap.String("topic", cfg.KafkaTopic))
	}

	crypto := security.NewCryptoService()
	auditLogger := audit.NewLogger(st.audits, mw.ClientIPFrom, logger)
	auth := authservice.NewAuthService(st.orgs, st.sessions, st.txns, crypto, hasher, policy, authservice.Options{
		SessionTTL: cfg.SessionTTLDuration(),
		Audit:      auditLogger,
		Metrics:    metrics,
		Logger:     logger,
	})
	configTokens := security.NewConfigTokenProvider(cfg.ConfigTokenSecret, cfg.ConfigTokenIssuer, cfg.ConfigTokenTTLDuration())
	txns := txnservice.NewService(st.txns, st.events, configTokens, auditLogger, logger)
	ingest := ingestservice.NewService(st.events, txns, auth, crypto, ingestservice.Options{
		RequireSignature: cfg.RequireBatchSignature,
		ReplayWindow:     cfg.ReplayWindowDuration(),
		Emitter:          emitters,
		Metrics:          metrics,
		Logger:           logger,
	})

	var pinger healthhandler.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	health := healthhandler.NewServer(pinger, policy, logger)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Auth:            auth,
			Transactions:    txns,
			Ingest:          ingest,
			Health:          health,
			Logger:          logger,
			RotateByDefault: cfg.TokenRotateDefault,
			MaxBodyBytes:    cfg.MaxBatchBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(health, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC health server listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- grpcSrv.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	// In-flight async emits finish before the exporters are torn down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		logger.Warn("kafka producer close", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	return nil
}
