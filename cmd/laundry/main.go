package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth"
	"github.com/iurnickita/laundry/internal/config"
	"github.com/iurnickita/laundry/internal/handler"
	"github.com/iurnickita/laundry/internal/logger"
	"github.com/iurnickita/laundry/internal/service"
	"github.com/iurnickita/laundry/internal/service/gatewayclient"
	"github.com/iurnickita/laundry/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.Store.DBDsn == "" {
		zaplog.Warn("DATABASE_URI is empty, orders are kept in memory")
	}

	gateway := gatewayclient.NewGatewayClient(cfg.Service.Gateway)
	service, err := service.NewService(cfg.Service, store, gateway, zaplog)
	if err != nil {
		return err
	}
	auth := auth.NewAuth(cfg.Auth, zaplog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zaplog.Info("starting laundry service",
		zap.String("addr", cfg.Handler.ServerAddr),
		zap.String("gateway", cfg.Service.Gateway.BaseURL))
	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}
