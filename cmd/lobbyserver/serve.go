package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/admin"
	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/frontend/handlers"
	"github.com/cory-johannsen/lobby/internal/frontend/wire"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/registry"
	"github.com/cory-johannsen/lobby/internal/server"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lobby server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/dev.yaml", "path to configuration file")
	return cmd
}

// serve wires every component from cfg and blocks until shutdown.
func serve(ctx context.Context, cfg config.Config) error {
	start := time.Now()

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting lobby server",
		zap.String("version", version),
		zap.String("lobby_addr", cfg.Lobby.Addr()),
		zap.Bool("admin_enabled", cfg.Admin.Enabled),
	)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)

	reg := registry.New(cfg.Lobby.PasswordCost, registry.WithMaxRooms(cfg.Lobby.MaxRooms))
	if cfg.Lobby.SeedRooms != "" {
		specs, err := registry.LoadSeedRoomsFromFile(cfg.Lobby.SeedRooms)
		if err != nil {
			return fmt.Errorf("loading seed rooms: %w", err)
		}
		n, err := reg.Seed(specs)
		if err != nil {
			return fmt.Errorf("seeding rooms: %w", err)
		}
		logger.Info("rooms seeded",
			zap.String("file", cfg.Lobby.SeedRooms),
			zap.Int("count", n),
		)
	}

	lobbyHandler := handlers.NewLobbyHandler(reg, cfg.Server, metrics, logger)
	acceptor := wire.NewAcceptor(cfg.Lobby, lobbyHandler, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("lobby", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(cfg.Admin, reg, promReg, logger)
		lifecycle.Add("admin", &server.FuncService{
			StartFn: adminServer.ListenAndServe,
			StopFn:  adminServer.Stop,
		})
	}

	// Sessions still draining after Stop see a closed registry.
	lifecycle.OnShutdown(reg.Close)

	logger.Info("lobby server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		return fmt.Errorf("running lobby server: %w", err)
	}
	return nil
}
