package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/stream-pools/poolsync/app/poolsync"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := poolsync.Initialize(ctx)
	app.Start(ctx)
}
