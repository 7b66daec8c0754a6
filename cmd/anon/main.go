// Command anon replaces sensitive entities in documents with stable,
// reversible pseudonyms.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mesh-intelligence/anonymizer/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
