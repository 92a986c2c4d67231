package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/agrox/internal/api"
	"github.com/devghori1264/agrox/internal/auth"
	"github.com/devghori1264/agrox/internal/config"
	"github.com/devghori1264/agrox/internal/ledger"
	"github.com/devghori1264/agrox/internal/metrics"
	"github.com/devghori1264/agrox/internal/models"
	natsclient "github.com/devghori1264/agrox/internal/nats"
	"github.com/devghori1264/agrox/internal/server"
	"github.com/devghori1264/agrox/internal/storage"
	"github.com/devghori1264/agrox/internal/telemetry"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	addr := flag.String("grpc-addr", "", "gRPC listen address")
	httpAddr := flag.String("http-addr", "", "HTTP shim listen address")
	dbPath := flag.String("db", "", "Badger DB path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.GRPC.Addr = *addr
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if v := os.Getenv("AGROX_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	shutdownTracing, err := telemetry.Setup(cfg.Tracing.Enabled, os.Stdout)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}

	// Create storage
	var store storage.Store
	if cfg.Storage.InMemory {
		store, err = storage.NewInMemoryStore()
	} else {
		store, err = storage.NewBadgerStore(cfg.Storage.Path)
	}
	if err != nil {
		log.Fatal("failed to open badger store", zap.String("path", cfg.Storage.Path), zap.Error(err))
	}
	defer store.Close()

	opts := []server.Option{
		server.WithLogger(log.Named("ledger")),
		server.WithMetrics(metrics.NewRecorder(nil)),
	}
	if cfg.NATS.URL != "" {
		pub, err := natsclient.NewPublisher(cfg.NATS.URL, cfg.NATS.EventsSubject, log.Named("nats"))
		if err != nil {
			log.Fatal("connect nats", zap.String("url", cfg.NATS.URL), zap.Error(err))
		}
		defer pub.Close()
		opts = append(opts, server.WithEvents(pub))
		if cfg.NATS.TransferSubject != "" {
			opts = append(opts, server.WithTransferer(
				natsclient.NewTransferer(pub.Conn(), cfg.NATS.TransferSubject, cfg.NATS.TransferTimeout, log.Named("transfer"))))
		}
	} else {
		opts = append(opts, server.WithTransferer(ledger.NewLogTransferer(log.Named("transfer"))))
	}
	srv := server.New(store, opts...)

	ctx := context.Background()
	if _, err := srv.Initialize(ctx, models.Identity(cfg.Authority)); err != nil && !errors.Is(err, storage.ErrAlreadyInitialized) {
		log.Fatal("initialize registry", zap.Error(err))
	}
	if err := srv.SyncMetrics(ctx); err != nil {
		log.Fatal("seed metrics", zap.Error(err))
	}

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Start gRPC server
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.UnaryAuthInterceptor(issuer)))
	srv.RegisterGRPC(grpcServer)

	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("grpc serve error", zap.Error(err))
		}
	}()

	// Start HTTP shim
	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewHTTPHandler(srv, issuer, api.Options{
			AllowIssue: cfg.Auth.AllowIssue,
			Logger:     log.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP shim listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http listen", zap.Error(err))
		}
	}()

	// Metrics endpoint
	mux := http.NewServeMux()
	api.RegisterMetrics(mux, nil)
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Prometheus metrics available", zap.String("addr", cfg.Metrics.Addr+"/metrics"))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown initiated")

	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
