package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"arbscout/internal/config"
	"arbscout/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("arbscout", pflag.ExitOnError)
	configPath := flags.String("config", ".", "directory containing config.yaml")
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		log.Fatalf("cannot set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, logger, &cfg, os.Stdout)
	stop()
	if err != nil {
		logger.Error("arbscout stopped", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
	_ = logCloser.Close()
}
