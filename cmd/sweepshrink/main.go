// Command sweepshrink reads a scan report produced by sweepscan and deletes
// (or, in dry run, only logs) every duplicate but the one(s) chosen to
// keep. The same report file doubles as shrinker input: its sweep_dirs
// entry is meant to be hand-edited down to the real directories the
// operator wants duplicates deleted from before running with --erase.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hsp501/sweeper/pkg/config"
	"github.com/hsp501/sweeper/pkg/report"
	"github.com/hsp501/sweeper/pkg/shrink"
)

func checkMax(v int) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("%d is an invalid positive int value", v)
	}
	return v, nil
}

func main() {
	yamlPath := flag.String("yaml", "", "the scan report produced by sweepscan (required)")
	parse := flag.Bool("parse", false, "parse the report and print the directories duplicate files locate in, then exit")
	erase := flag.Bool("erase", false, "actually delete the files, default is dry run")
	blank := flag.Bool("blank", false, "delete files which are 0 bytes")
	auto := flag.Bool("auto", false, "delete files without prompt")
	maxDelete := flag.Int("delete", 0, "max number of files to delete")
	debug := flag.Bool("debug", false, "debug mode, show more detail logs")
	flag.Parse()

	if *yamlPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --yaml is required")
		os.Exit(1)
	}
	if _, err := checkMax(*maxDelete); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --delete: %v\n", err)
		os.Exit(1)
	}

	if err := run(*yamlPath, *parse, *erase, *blank, *auto, *maxDelete, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(yamlPath string, parse, erase, blank, auto bool, maxDelete int, debug bool) error {
	rep, err := report.Load(yamlPath)
	if err != nil {
		return err
	}

	logger := config.NewLogger(debug)

	if parse {
		counts := shrink.DirectoryHistogram(rep, rep.LocalMode)
		for _, line := range shrink.FormatDirectoryHistogram(counts) {
			fmt.Println(line)
		}
		return nil
	}

	sweepDirs := make([]string, 0, len(rep.SweepDirs))
	for _, dir := range rep.SweepDirs {
		if filepath.IsAbs(dir) {
			if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
				sweepDirs = append(sweepDirs, dir)
			}
		}
	}
	if len(sweepDirs) == 0 {
		logger.Warn("sweeper directory not specified, shrink aborted")
		return nil
	}
	rep.SweepDirs = sweepDirs

	eng := shrink.New(shrink.Config{
		ID:         rep.ID,
		SweepDirs:  sweepDirs,
		ServerAddr: rep.Server,
		LocalMode:  rep.LocalMode,
		EraseMode:  erase,
		StepMode:   !auto,
		EraseBlank: blank,
		MaxDelete:  maxDelete,
		Logger:     logger,
	})

	return eng.Run(rep)
}
