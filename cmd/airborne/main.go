package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juspay/airborne/cmd/root"
	"github.com/juspay/airborne/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := root.New()
	if err != nil {
		logging.Fatalf("%v", err)
	}
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Fatalf("%v", err)
	}
}
