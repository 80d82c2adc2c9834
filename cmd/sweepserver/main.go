// Command sweepserver runs the server role: it holds the reference file
// population and answers CHECK_SIZE/CHECK_HASH/CALC_FILE_HASH requests from
// scanner clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hsp501/sweeper/pkg/config"
	"github.com/hsp501/sweeper/pkg/server"
)

func main() {
	yamlPath := flag.String("yaml", "", "server config yaml file (required)")
	debug := flag.Bool("debug", false, "debug mode, show more detail logs")
	flag.Parse()

	if *yamlPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --yaml is required")
		os.Exit(1)
	}

	if err := run(*yamlPath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(yamlPath string, debug bool) error {
	var cfg config.ServerConfig
	if err := config.Load(yamlPath, &cfg); err != nil {
		return err
	}
	cfg.ID = config.WithDefaults(cfg.ID)
	if cfg.Bind == "" {
		cfg.Bind = fmt.Sprintf("0.0.0.0:%d", config.DefaultPort)
	}

	logger := config.NewLogger(debug)

	eng := server.New(server.Config{
		ID:     cfg.ID,
		Dirs:   cfg.Dirs,
		Bind:   cfg.Bind,
		HashDB: cfg.HashDB,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return eng.Start(ctx)
}
