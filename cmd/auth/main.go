package main

import (
	"context"
	"fmt"
	"os"

	authcleanup "github.com/AlibekovAA/refresh-guard/internal/auth/cleanup"
	authhttp "github.com/AlibekovAA/refresh-guard/internal/auth/http"
	"github.com/AlibekovAA/refresh-guard/internal/common/bootstrap"
	commonhttp "github.com/AlibekovAA/refresh-guard/internal/common/http"
	srv "github.com/AlibekovAA/refresh-guard/internal/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.NewAuthApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start auth service: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	log := app.Log
	cfg := app.Config

	go authcleanup.StartCleanup(ctx, app.Store, cfg.Store.CleanupInterval, log)

	rateLimiter := commonhttp.NewPathRateLimiter()
	defer rateLimiter.Stop()

	handler := authhttp.NewHandler(app.Service, authhttp.Config{
		Cookie:         cfg.Cookie,
		AccessTTL:      cfg.JWT.AccessTTL,
		RefreshTTL:     cfg.JWT.RefreshTTL,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimiter:    rateLimiter,
		AdminToken:     cfg.HTTP.AdminToken,
	}, log)

	serverConfig := srv.DefaultServerConfig(cfg.HTTP.Port)
	server := srv.NewServer(serverConfig, commonhttp.BuildBaseHandler("auth", log, handler))

	shutdownHooks := []srv.ShutdownHook{
		func(ctx context.Context) error {
			log.Infof("auth service: stopping cleanup goroutine")
			cancel()
			return nil
		},
	}

	srv.StartWithGracefulShutdownAndHooks(server, log, "auth", shutdownHooks)
}
