package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"recon3d/internal/cli"
)

func main() {
	// Ctrl+C / SIGTERM cancel the running reconstruction or shut the server down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.NewApp().Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
