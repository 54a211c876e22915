package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"assetdesk/internal/app"
	"assetdesk/pkg/config"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/shutdown"
)

// set via ldflags during release builds
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	fileCfg, exists, err := config.ParseConfigFile(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config file: %v\n", err)
		os.Exit(2)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, exists)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	defer logger.Sync()

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath, 2*time.Second)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()
	if err := a.Run(ctx); err != nil {
		logger.Error("server_failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}
