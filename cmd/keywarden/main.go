package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"keywarden/internal/app"
	"keywarden/internal/config"
	"keywarden/pkg/contracts"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: keywarden.yaml lookup)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	// Optional .env for local development. A missing file is normal.
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.NewWithConfig(cfg)
	if err != nil {
		slog.Error("failed to initialize keywarden", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("keywarden exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
