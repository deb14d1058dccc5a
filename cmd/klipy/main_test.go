package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/account"
	"github.com/Bigwills27/Klipy/pkg/config"
	"github.com/Bigwills27/Klipy/pkg/session"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{name: "verbose logger", verbose: true, wantDebug: true},
		{name: "non-verbose logger", verbose: false, wantDebug: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(&buf, tt.verbose)
			log.Debug("debug line")
			log.Info("info line", "component", "agent")

			out := buf.String()
			assert.Contains(t, out, "info line")
			assert.Contains(t, out, "component=agent")
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug line"))
		})
	}
}

func TestApplyAgentFlags(t *testing.T) {
	require.NoError(t, agentCmd.ParseFlags([]string{
		"--hub", "wss://hub.example.com/v1/session",
		"--always-on",
		"--max-attempts", "5",
	}))

	cfg := config.NewConfig()
	cfg.DeviceName = "from-file"
	applyAgentFlags(agentCmd, cfg)

	assert.Equal(t, "wss://hub.example.com/v1/session", cfg.HubURL)
	assert.True(t, cfg.AlwaysOn)
	assert.Equal(t, 5, cfg.MaxAttempts)
	// Untouched flags leave the loaded values alone.
	assert.Equal(t, "from-file", cfg.DeviceName)
	assert.Equal(t, config.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.False(t, cfg.AutoWrite)
}

func TestApplyHubFlags(t *testing.T) {
	require.NoError(t, hubCmd.ParseFlags([]string{"--listen", ":9000", "--advertise", "--max-members", "4"}))

	cfg := config.NewConfig()
	database := cfg.Hub.Database
	applyHubFlags(hubCmd, &cfg.Hub)

	assert.Equal(t, ":9000", cfg.Hub.Listen)
	assert.True(t, cfg.Hub.Advertise)
	assert.Equal(t, 4, cfg.Hub.MaxMembers)
	assert.Equal(t, database, cfg.Hub.Database)
	assert.Equal(t, config.DefaultHubMaxClips, cfg.Hub.MaxClips)
	assert.Empty(t, cfg.Hub.Redis)
}

func TestDirectoryAuth(t *testing.T) {
	dir, err := account.Open(":memory:")
	require.NoError(t, err)
	defer dir.Close()

	ctx := context.Background()
	user, err := dir.CreateUser(ctx, "ada@example.com", "Ada")
	require.NoError(t, err)
	key, _, err := dir.GenerateAPIKey(ctx, user.ID, "default")
	require.NoError(t, err)

	auth := directoryAuth(dir)

	id, err := auth.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada", id.Name)

	_, err = auth.Authenticate(ctx, "not-a-key")
	assert.ErrorIs(t, err, session.ErrUnauthorized)
}

func TestOpenSnapshotsBolt(t *testing.T) {
	hc := config.HubConfig{Snapshots: t.TempDir() + "/hub.db"}
	store, closer, err := openSnapshots(context.Background(), hc)
	require.NoError(t, err)
	defer closer.Close()

	snap, err := store.Load(context.Background(), "u_ada")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestServeHubShutdown(t *testing.T) {
	dir := t.TempDir()
	hc := config.HubConfig{
		Listen:    "127.0.0.1:0",
		Database:  dir + "/accounts.db",
		Snapshots: dir + "/hub.db",
		Name:      "klipy-test",

		MaxClips:        10,
		PersistInterval: time.Second,
		MaxMembers:      2,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHub(ctx, hc, newLogger(&bytes.Buffer{}, false)) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not shut down")
	}
}
