package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"clarion/internal/artifactstore"
	"clarion/internal/config"
	"clarion/internal/daemon"
	"clarion/internal/enhance"
	"clarion/internal/logging"
	"clarion/internal/pipeline"
	"clarion/internal/queue"
	"clarion/internal/resultcache"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job registry", logging.Error(err))
		return
	}

	artifacts := artifactstore.New(cfg, store, logger)
	cache := resultcache.New(cfg.Cache.Capacity, cfg.CacheTTL())
	enhancer := enhance.NewCommand(cfg, logger)
	p := pipeline.New(cfg, store, artifacts, cache, enhancer, logger)

	d, err := daemon.New(cfg, store, artifacts, p, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("clariond shutting down")
}
