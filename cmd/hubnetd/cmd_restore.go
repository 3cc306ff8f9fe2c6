package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HerbHall/hubnet/internal/backup"
	"github.com/HerbHall/hubnet/internal/config"
)

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	input := fs.String("input", "", "backup archive to restore (required)")
	configPath := fs.String("config", "", "path to configuration file locating the state database")
	force := fs.Bool("force", false, "overwrite existing files")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore: %v\n", err)
		os.Exit(1)
	}
	// Restore next to the configured database; the daemon must be stopped.
	dir := filepath.Dir(cfg.State.DBPath)
	restored, err := backup.Restore(context.Background(), *input, dir, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	for _, f := range restored {
		fmt.Printf("Restored %s\n", f)
	}
	if base := filepath.Base(cfg.State.DBPath); base != backup.DBName {
		fmt.Printf("Note: database restored as %s; state.db_path names %s\n", backup.DBName, base)
	}
}
