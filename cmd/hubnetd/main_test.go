package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/hubnet/internal/hotspot"
	"github.com/HerbHall/hubnet/internal/mode"
	"github.com/HerbHall/hubnet/internal/monitor"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/store"
)

// The daemon hands these to the mode controller.
var (
	_ mode.Hotspot = (*hotspot.Manager)(nil)
	_ mode.Monitor = (*monitor.Monitor)(nil)
)

func TestDumpState_RedactsSecret(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "hubnet.db")

	db, err := store.New(dbPath)
	require.NoError(t, err)
	profiles, _, err := state.NewRepositories(ctx, db)
	require.NoError(t, err)
	require.NoError(t, profiles.Save(ctx, state.Profile{SSID: "home", Secret: "correct horse"}))
	require.NoError(t, db.Close())

	out, err := dumpState(ctx, dbPath, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), "ssid: home")
	assert.Contains(t, string(out), "***")
	assert.NotContains(t, string(out), "correct horse")

	out, err = dumpState(ctx, dbPath, true)
	require.NoError(t, err)
	assert.Contains(t, string(out), "correct horse")
}

func TestDumpState_Empty(t *testing.T) {
	out, err := dumpState(context.Background(), filepath.Join(t.TempDir(), "hubnet.db"), false)
	require.NoError(t, err)
	assert.Contains(t, string(out), "profile: null")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("4242\n"), 0o644))
	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))

	pid, err := readPID(good)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	_, err = readPID(bad)
	assert.Error(t, err)
	_, err = readPID(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		l, err := newLogger(lvl)
		require.NoError(t, err, lvl)
		assert.NotNil(t, l)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}
