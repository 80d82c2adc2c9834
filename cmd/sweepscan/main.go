// Command sweepscan runs the scanner role: it walks its configured sweep
// directories, asks a running sweepserver to narrow duplicate candidates,
// and writes a YAML scan report a sweepshrink run can later act on.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hsp501/sweeper/pkg/config"
	"github.com/hsp501/sweeper/pkg/scanner"
)

func checkMax(v int) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("%d is an invalid positive int value", v)
	}
	return v, nil
}

func main() {
	yamlPath := flag.String("yaml", "", "scanner config yaml file (required)")
	localMode := flag.Bool("local", false, "client & server running on local mode, don't compare the same path file")
	maxDelete := flag.Int("delete", 0, "max number of files to delete")
	maxScan := flag.Int("scan", 0, "max number of files to scan")
	debug := flag.Bool("debug", false, "debug mode, show more detail logs")
	outDir := flag.String("out", "log", "directory the scan report is written to")
	flag.Parse()

	if *yamlPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --yaml is required")
		os.Exit(1)
	}
	if _, err := checkMax(*maxDelete); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --delete: %v\n", err)
		os.Exit(1)
	}
	if _, err := checkMax(*maxScan); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --scan: %v\n", err)
		os.Exit(1)
	}

	if err := run(*yamlPath, *localMode, *maxDelete, *maxScan, *debug, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(yamlPath string, localMode bool, maxDelete, maxScan int, debug bool, outDir string) error {
	var cfg config.ScannerConfig
	if err := config.Load(yamlPath, &cfg); err != nil {
		return err
	}
	cfg.ID = config.WithDefaults(cfg.ID)

	logger := config.NewLogger(debug)

	eng := scanner.New(scanner.Config{
		ID:         cfg.ID,
		SessionID:  uuid.NewString(),
		Dirs:       cfg.Dirs,
		ServerAddr: cfg.Server,
		HashDB:     cfg.HashDB,
		LocalMode:  localMode,
		MaxDelete:  maxDelete,
		MaxScan:    maxScan,
		Logger:     logger,
	})

	runErr := eng.Start()
	eng.Stop()
	if runErr != nil {
		return runErr
	}

	rep := eng.Builder().Build(cfg.ID, localMode, cfg.Server, cfg.Dirs)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("sweepscan: create output dir: %w", err)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("sweeper.%s.yaml", time.Now().Format("20060102_150405")))
	if err := rep.Save(outPath); err != nil {
		return err
	}

	logger.WithField("path", outPath).Info("scan report written")
	return nil
}
