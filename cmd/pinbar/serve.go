package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"pinbar-backtest/services/clickhouse"
)

const grpcServiceName = "pinbar.Backtest"

func newServeCmd(a *app) *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, Prometheus metrics and gRPC health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, dataDir)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory of <SYMBOL>.csv files when ClickHouse is not configured")
	return cmd
}

func (a *app) serve(ctx context.Context, dataDir string) error {
	logger := a.logger
	logger.Info("Starting backtesting service",
		zap.String("version", version),
		zap.String("environment", a.cfg.Environment),
	)

	var ch *clickhouse.Client
	if a.cfg.ClickHouse.Enabled() {
		var err error
		if ch, err = clickhouse.NewClient(ctx, a.cfg.ClickHouse, logger); err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	service := NewBacktestService(a.cfg, ch, dataDir, logger)

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service.setupHTTPRoutes(router)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting gRPC server", zap.Int("port", a.cfg.Server.GRPCPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.Int("port", a.cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	logger.Info("Servers stopped")
	return nil
}
