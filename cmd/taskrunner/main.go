// ABOUTME: CLI entrypoint for taskrunner: runs markdown task lists through a worker CLI one fresh context at a time.
// ABOUTME: Wires signal handling and .env loading, then hands off to the cobra command tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
