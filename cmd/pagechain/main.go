// Package main provides pagechain, a tool to build and traverse page chain
// segments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/pagechain/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cli.Run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:], nil)

	stop()
	os.Exit(code)
}
