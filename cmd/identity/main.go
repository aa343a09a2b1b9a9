// Package main is the entrypoint for the identity service.
// Identity binds device keys to accounts through phone codes and proofs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/deliberation-platform/identity/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:    "identity",
		Version: version,
		Setup:   setup,
	}, nil)
}
