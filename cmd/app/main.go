package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"SignalFusion/internal/di"
	"SignalFusion/pkg/config"
)

func main() {
	configPath := flag.String("config", envOr("SIGNALFUSION_CONFIG", "config/config.yaml"), "config file path")
	checkOnly := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *checkOnly {
		fmt.Printf("%s: ok\n", *configPath)
		return
	}

	log.Printf("env=%s history=%s portfolio=%s kafka=%t jobs=%t watchlist=%v",
		cfg.Environment, cfg.History.Store, cfg.Portfolio.Store, cfg.Kafka.Enabled, cfg.Jobs.Enabled, cfg.Analysis.Watchlist)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
