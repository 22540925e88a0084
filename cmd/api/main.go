package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"lidar.app/internal/app"
	"lidar.app/internal/config"
	"lidar.app/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIDAR_CONFIG"), "Path to YAML config file")
	envFile := flag.String("env", ".env", "Path to .env file (ignored when missing)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Metrics registry and build_info.
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(ctx, cfg, app.BuildInfo{Version: version, Commit: commit})
	cancel()
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.API.Handler(),
		ReadTimeout:       cfg.ReadTimeout(),
		ReadHeaderTimeout: cfg.ReadTimeout(),
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       cfg.IdleTimeout(),
	}

	obs.Info("starting", map[string]any{
		"service":   "lidar-api",
		"version":   version,
		"http_addr": cfg.Server.HTTPAddr,
		"grpc_addr": cfg.Server.GRPCAddr,
		"driver":    cfg.Database.Driver,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			if err := a.GRPC.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.SetReady(false)
	obs.Info("shutting_down", nil)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(shutdownCtx)
	a.GRPC.GracefulStop()
	obs.Info("stopped", nil)
}
