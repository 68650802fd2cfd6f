package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/isometry/adq/internal/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Run(ctx, version, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "adq:", err)
		stop()
		os.Exit(1)
	}
}
