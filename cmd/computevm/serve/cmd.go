// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	vmcore "github.com/luxfi/computevm"
	"github.com/luxfi/computevm/api/server"
	"github.com/luxfi/computevm/vms"
	"github.com/luxfi/computevm/vms/computevm"
	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/events"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Runs a compute VM chain behind a JSON-RPC endpoint",
		RunE:  serveFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func serveFunc(c *cobra.Command, args []string) error {
	cfg, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	logger := log.NewLogger(computevm.Name)
	return Run(c.Context(), logger, cfg)
}

// Run serves the chain until ctx is cancelled or the server fails.
func Run(ctx context.Context, logger log.Logger, cfg *Config) error {
	db, err := openDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", log.Err(err))
		}
	}()

	publisher, closePublisher, err := newPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}

	genesisBytes, err := cfg.GenesisBytes()
	if err != nil {
		return err
	}
	configBytes, err := cfg.VMConfigBytes()
	if err != nil {
		return err
	}

	factory := &computevm.Factory{Config: config.DefaultConfig()}
	vm, err := factory.New(logger)
	if err != nil {
		return err
	}
	chainID := ids.ID(sha256.Sum256(genesisBytes))
	if err := vm.Initialize(ctx, &vmcore.Config{
		ChainID:      chainID,
		NetworkID:    cfg.NetworkID,
		DB:           db,
		Log:          logger,
		Registerer:   registry,
		Publisher:    publisher,
		GenesisBytes: genesisBytes,
		ConfigBytes:  configBytes,
	}); err != nil {
		return fmt.Errorf("failed to initialize VM: %w", err)
	}
	defer func() {
		if err := vm.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down VM", log.Err(err))
		}
	}()
	if err := vm.SetState(ctx, vmcore.Bootstrapping); err != nil {
		return err
	}
	if err := vm.SetState(ctx, vmcore.NormalOp); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.HTTPHost, strconv.FormatUint(uint64(cfg.HTTPPort), 10)))
	if err != nil {
		return err
	}
	srv, err := server.New(
		logger,
		listener,
		cfg.AllowedOrigins,
		cfg.AllowedHosts,
		cfg.ShutdownTimeout,
		ids.EmptyNodeID,
		registry,
		cfg.HTTP,
	)
	if err != nil {
		_ = listener.Close()
		return err
	}
	if err := vms.RegisterChain(ctx, logger, srv, cfg.ChainName, chainID, vm); err != nil {
		_ = listener.Close()
		return err
	}
	if err := srv.AddRoute(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), "metrics", ""); err != nil {
		_ = listener.Close()
		return err
	}
	if err := srv.AddRoute(vms.HealthHandler(vm), "health", ""); err != nil {
		_ = listener.Close()
		return err
	}

	logger.Info("serving chain",
		log.String("chainName", cfg.ChainName),
		log.Stringer("chainID", chainID),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Dispatch(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown()
	})
	return g.Wait()
}

func openDB(dataDir string) (database.Database, error) {
	if dataDir == "" {
		return memdb.New(), nil
	}
	db, err := badgerdb.New(filepath.Join(dataDir, "db"), nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database in %q: %w", dataDir, err)
	}
	return db, nil
}

func newPublisher(cfg NATS, logger log.Logger) (vmcore.Publisher, func(), error) {
	if cfg.URL == "" {
		return events.Noop{}, func() {}, nil
	}
	publisher, err := events.Connect(cfg.URL, cfg.Subject, logger)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", log.Err(err))
		}
	}, nil
}
