package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"CertVerify-Chain/internal/api"
	"CertVerify-Chain/internal/app"
	"CertVerify-Chain/internal/config"
	"CertVerify-Chain/internal/observability/metrics"
	"CertVerify-Chain/pkg/logger"
)

// main 是证书验证服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("certd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg, err := config.Resolve()
	if err != nil {
		return err
	}
	if err := logger.Init(app.LoggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("certd")

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	if a.InProcessEvents() {
		go func() {
			if err := a.AuditMints(ctx); err != nil {
				lg.Error("mint event consumer stopped", slog.Any("error", err))
			}
		}()
	}

	deps := api.Dependencies{
		Intake:            a.Intake,
		Verifier:          a.Dispatcher,
		Chat:              a.Relay,
		Activity:          a.Activity,
		Auth:              a.Auth,
		Contract:          a.ContractAddress(),
		Snapshot:          a.Snapshot,
		MaxUploadBytes:    cfg.Intake.MaxUploadBytes(),
		AllowedExtensions: cfg.Intake.AllowedExtensions,
	}
	server := api.NewServer(cfg.Server.Address, deps, api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()))

	lg.Info("certificate verification service starting",
		slog.String("address", cfg.Server.Address),
		slog.String("contract", deps.Contract),
		slog.String("auth_mode", string(a.Auth.Mode())))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
