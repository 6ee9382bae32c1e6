// Package app собирает сервис маркетплейса: хранилище, сервисы, HTTP API, gRPC health и фоновые worker'ы.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/vendormarket/internal/health"
	"github.com/vladislavdragonenkov/vendormarket/internal/httpapi"
	"github.com/vladislavdragonenkov/vendormarket/internal/metrics"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/checkout"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/payment"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/promo"
	"github.com/vladislavdragonenkov/vendormarket/internal/version"
)

const (
	readHeaderTimeout   = 5 * time.Second
	healthWatchInterval = 5 * time.Second
)

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}
	checkoutCfg, err := cfg.CheckoutSettings()
	if err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	checkoutMetrics := metrics.NewCheckoutMetrics()
	checkoutSvc := checkout.NewService(
		deps.store, deps.catalog, deps.users, deps.gateway, deps.notifier, checkoutCfg,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(checkoutMetrics),
	)
	paymentSvc := payment.NewService(
		deps.store, deps.gateway,
		payment.WithLogger(logger.WithField("component", "payments")),
		payment.WithMetrics(checkoutMetrics),
		payment.WithGatewayTimeout(checkoutCfg.GatewayTimeout),
	)
	promoSvc := promo.NewService(deps.store.Repositories().Coupons, promo.WithLogger(logger.WithField("component", "promo")))
	guard := idempotency.NewGuard(
		deps.idempotencyRepo,
		idempotency.WithKeyTTL(cfg.Idempotency.KeyTTL),
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency-guard")),
	)

	producer, err := initKafkaProducer(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer closeKafkaProducer(producer, logger)

	workers := newWorkerGroup(logger)
	defer workers.stop(workerStopTimeout)
	if producer != nil {
		workers.start(ctx, "outbox", newOutboxWorker(deps.store.Repositories().Outbox, producer, cfg.Outbox, logger).Run)
	} else {
		logger.Info("kafka brokers are not configured, outbox events stay in storage")
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
		idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
	)
	workers.start(ctx, "idempotency-cleanup", cleanup.Run)

	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Config{
		JWTSecret: cfg.JWTSecret,
		Logger:    logger.WithField("component", "http-api"),
	}, httpapi.Services{
		Checkout:    checkoutSvc,
		Payments:    paymentSvc,
		Coupons:     promoSvc,
		Idempotency: guard,
	})

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go healthHandler.Watch(watchCtx, healthWatchInterval, func(status healthcheck.Status) {
		serving := healthpb.HealthCheckResponse_SERVING
		if status == healthcheck.StatusUnhealthy {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", serving)
		logger.WithField("status", status).Info("service health changed")
	})
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: readHeaderTimeout}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health server listening on %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API listening on %s", cfg.HTTPAddr)
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	stopWatch()
	healthServer.Shutdown()
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	workers.stop(workerStopTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := checkoutSvc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("coupon notifications did not finish before shutdown")
	}

	return runErr
}

// stopGRPC ждёт завершения активных RPC, но не дольше 5 секунд.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		srv.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проверок.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}
