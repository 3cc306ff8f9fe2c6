package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/hubnet/internal/config"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/store"
)

type stateDump struct {
	Profile *state.Profile `yaml:"profile"`
	Shared  state.Shared   `yaml:"shared"`
}

// runState prints the persisted profile and shared address as YAML.
func runState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	showSecret := fs.Bool("show-secret", false, "print the saved passphrase")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state: %v\n", err)
		os.Exit(1)
	}
	out, err := dumpState(context.Background(), cfg.State.DBPath, *showSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(out))
}

func dumpState(ctx context.Context, dbPath string, showSecret bool) ([]byte, error) {
	db, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	profiles, shared, err := state.NewRepositories(ctx, db)
	if err != nil {
		return nil, err
	}

	var dump stateDump
	p, err := profiles.Load(ctx)
	switch {
	case err == nil:
		if !showSecret {
			red := p.Redacted()
			p = &red
		}
		dump.Profile = p
	case !errors.Is(err, state.ErrNotFound):
		return nil, err
	}
	if dump.Shared, err = shared.Load(ctx); err != nil {
		return nil, err
	}
	return yaml.Marshal(dump)
}
