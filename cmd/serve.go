// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wayfarerhq/tripcache/config"
	"github.com/wayfarerhq/tripcache/internal/apiserver"
	"github.com/wayfarerhq/tripcache/internal/healthcheck"
	"github.com/wayfarerhq/tripcache/internal/kv"
	"github.com/wayfarerhq/tripcache/internal/tripcache"
	"github.com/wayfarerhq/tripcache/tripdb"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trip cache API",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve()
	},
}

func setupLogging(servicename string) {
	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("TRIPCACHE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(
		slog.String("service", servicename),
	))
}

func serve() error {
	setupLogging("tripcache")

	doneCtx, doneCancel := handleSignals(context.Background())
	defer doneCancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := tripdb.OpenPGStore(doneCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to tripdb: %w", err)
	}
	defer store.Close()

	var kvs kv.Store
	if cfg.KV.Memory {
		slog.Warn("using in-process KV store, cache contents will not survive restarts")
		mem := kv.NewMemStore()
		defer mem.Stop()
		kvs = mem
	} else {
		kvs = kv.NewRESTClient(cfg.KV.URL, cfg.KV.Token)
	}

	svc := tripcache.New(store, kvs, tripcache.WithConfig(cfg.Cache))
	defer svc.Close()

	health := healthcheck.NewServer(cfg.Server.HealthPort)
	health.AddProbe("tripdb", store.Ping)
	health.AddProbe("kv", func(ctx context.Context) error {
		_, err := kvs.Get(ctx, "probe")
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	})

	api := apiserver.NewServer(cfg.Server.Addr, svc)

	g, gctx := errgroup.WithContext(doneCtx)
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error { return api.Run(gctx) })

	// give the listeners a moment before reporting healthy
	go func() {
		time.Sleep(500 * time.Millisecond)
		health.SetStatus(healthcheck.StatusHealthy)
	}()

	slog.Info("trip cache running", slog.String("addr", cfg.Server.Addr))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
