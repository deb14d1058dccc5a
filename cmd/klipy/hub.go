package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Bigwills27/Klipy/pkg/account"
	"github.com/Bigwills27/Klipy/pkg/config"
	"github.com/Bigwills27/Klipy/pkg/discovery"
	"github.com/Bigwills27/Klipy/pkg/model"
	"github.com/Bigwills27/Klipy/pkg/session"
	"github.com/Bigwills27/Klipy/pkg/storage"
)

const shutdownTimeout = 5 * time.Second

var (
	hubFlags struct {
		listen     string
		database   string
		redis      string
		snapshots  string
		advertise  bool
		name       string
		maxMembers int
	}

	hubCmd = &cobra.Command{
		Use:   "hub",
		Short: "Run the klipy hub",
		Long: `Run the hub that relays clips between the devices of each account.

The hub authenticates devices by API key against the account database,
keeps one room per account and persists each room's history to bbolt or,
with --redis, to Redis. With --advertise it announces itself over mDNS.

Examples:
  # Run with local storage
  klipy hub

  # Postgres accounts, Redis snapshots, advertised on the LAN
  klipy hub --database postgres://klipy@db/klipy --redis redis://cache:6379/0 --advertise`,
		RunE: runHub,
		Args: cobra.NoArgs,
	}
)

func init() {
	f := hubCmd.Flags()
	f.StringVar(&hubFlags.listen, "listen", config.DefaultHubListen, "Address to listen on")
	f.StringVar(&hubFlags.database, "database", "", "Account database: a SQLite path or postgres:// URL")
	f.StringVar(&hubFlags.redis, "redis", "", "Redis URL for room snapshots")
	f.StringVar(&hubFlags.snapshots, "snapshots", "", "bbolt file for room snapshots when Redis is not used")
	f.BoolVar(&hubFlags.advertise, "advertise", false, "Advertise the hub over mDNS")
	f.StringVar(&hubFlags.name, "name", "", "mDNS instance name")
	f.IntVar(&hubFlags.maxMembers, "max-members", 0, "Devices one account may connect at once (0 for no limit)")
}

func applyHubFlags(cmd *cobra.Command, hc *config.HubConfig) {
	f := cmd.Flags()
	if f.Changed("listen") {
		hc.Listen = hubFlags.listen
	}
	if f.Changed("database") {
		hc.Database = hubFlags.database
	}
	if f.Changed("redis") {
		hc.Redis = hubFlags.redis
	}
	if f.Changed("snapshots") {
		hc.Snapshots = hubFlags.snapshots
	}
	if f.Changed("advertise") {
		hc.Advertise = hubFlags.advertise
	}
	if f.Changed("name") {
		hc.Name = hubFlags.name
	}
	if f.Changed("max-members") {
		hc.MaxMembers = hubFlags.maxMembers
	}
}

func runHub(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyHubFlags(cmd, &cfg.Hub)
	if err := cfg.ValidateHub(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := newLogger(os.Stderr, cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveHub(ctx, cfg.Hub, log)
}

func serveHub(ctx context.Context, hc config.HubConfig, log *slog.Logger) error {
	dir, err := account.Open(hc.Database)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	store, closer, err := openSnapshots(ctx, hc)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	hub, err := session.NewHub(session.HubConfig{
		Auth:            directoryAuth(dir),
		Store:           store,
		MaxClips:        hc.MaxClips,
		MaxMembers:      hc.MaxMembers,
		PersistInterval: hc.PersistInterval,
		Logger:          log.With("component", "hub"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = hub.Close() }()

	ln, err := net.Listen("tcp", hc.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", hc.Listen, err)
	}

	srv := &http.Server{
		Handler:           session.NewServer(session.NewLocalTransport(hub), log.With("component", "server")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("klipy hub listening", "addr", ln.Addr().String(), "path", session.Path)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if hc.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(hc.Name, port, session.Path)
		if err != nil {
			log.Warn("mdns advertisement failed", "error", err)
		} else {
			log.Info("advertising hub", "instance", hc.Name, "port", port)
			defer adv.Shutdown()
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down hub")
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// openSnapshots picks Redis when configured and the local bbolt file
// otherwise.
func openSnapshots(ctx context.Context, hc config.HubConfig) (model.SnapshotStore, io.Closer, error) {
	if hc.Redis != "" {
		r, err := storage.OpenRedis(ctx, storage.RedisOptions{URL: hc.Redis})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	}
	b, err := storage.OpenBolt(hc.Snapshots)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}

// directoryAuth resolves API keys through the account directory.
func directoryAuth(dir *account.Directory) session.Authenticator {
	return session.AuthFunc(func(ctx context.Context, apiKey string) (session.Identity, error) {
		user, err := dir.Verify(ctx, apiKey)
		if err != nil {
			if errors.Is(err, account.ErrInvalidKey) {
				return session.Identity{}, session.ErrUnauthorized
			}
			return session.Identity{}, err
		}
		return session.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
	})
}
