package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"cadence/api/internal/config"
	"cadence/api/internal/remote"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg := config.Load()
	logger := cfg.Logger()

	open := func(c *cli.Context) (remote.DocumentStore, error) {
		url := strings.TrimSpace(c.String("redis"))
		if url == "" {
			return nil, fmt.Errorf("--redis or REDIS_URL is required")
		}
		return remote.NewRedisStore(url, logger)
	}

	app := newCLIApp(cfg, open, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
