package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pablof7z/tenex-sub009/internal/cli"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(cli.Run(ctx, Version, os.Args[1:]))
}
