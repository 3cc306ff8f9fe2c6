package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/HerbHall/hubnet/internal/config"
)

// runReset asks a running daemon to reset, the same way the button
// listener does.
func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		os.Exit(1)
	}
	pid, err := readPID(cfg.Paths.PIDFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Kill(pid, unix.SIGUSR1); err != nil {
		fmt.Fprintf(os.Stderr, "reset: signal pid %d: %v\n", pid, err)
		os.Exit(1)
	}
	fmt.Printf("Reset requested (pid %d)\n", pid)
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid contents %q", path, strings.TrimSpace(string(raw)))
	}
	return pid, nil
}
