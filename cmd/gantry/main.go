package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/seantiz/gantry/internal/api"
	"github.com/seantiz/gantry/internal/config"
	"github.com/seantiz/gantry/internal/contextvar"
	"github.com/seantiz/gantry/internal/engine"
	"github.com/seantiz/gantry/internal/janitor"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/queue"
	"github.com/seantiz/gantry/internal/sandbox"
	"github.com/seantiz/gantry/internal/sandbox/docker"
	"github.com/seantiz/gantry/internal/staging"
	"github.com/seantiz/gantry/internal/storage"
	"github.com/seantiz/gantry/internal/storage/local"
	"github.com/seantiz/gantry/internal/storage/sftp"
	"github.com/seantiz/gantry/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("gantry: %v", err)
	}
}

func openStore(cfg config.Config) (*store.SQLStore, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DBDSN)
	case "postgres":
		return store.NewPostgresStore(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("gantry: starting",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DBDriver,
		"work_dir", cfg.WorkDir,
		"nats_enabled", cfg.NATSURL != "",
	)

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, db); err != nil {
			return err
		}
		logger.Info("registry seeded",
			"seed_file", cfg.SeedFile,
			"storage_resources", len(seed.StorageResources),
			"applications", len(seed.Applications),
		)
	}

	vars, err := contextvar.Open(cfg.ContextDBPath, cfg.ContextTTL)
	if err != nil {
		return err
	}
	defer vars.Close()

	protocols := storage.NewRegistry()
	protocols.Register(model.ProtocolLocal, local.Factory{})
	sshFactory := &sftp.Factory{KnownHostsFile: cfg.KnownHostsFile, Logger: logger}
	protocols.Register(model.ProtocolSCP, sshFactory)
	protocols.Register(model.ProtocolSFTP, sshFactory)
	if cfg.KnownHostsFile == "" {
		logger.Warn("storage host keys are not verified; set GANTRY_SSH_KNOWN_HOSTS")
	}

	resolver := storage.NewResolver(db, db, protocols, logger)
	defer resolver.Close()

	rt, err := docker.New(cfg.DockerEndpoint, logger)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(engine.Deps{
		Registry:  db,
		Recorder:  db,
		Fetcher:   staging.NewFetcher(resolver, logger),
		Runner:    sandbox.NewRunner(rt, logger),
		Stager:    staging.NewStager(resolver, db, logger),
		Variables: vars,
		WorkDir:   cfg.WorkDir,
		Logger:    logger,
	})

	srv := api.NewServer(cfg.ListenAddr, db, eng, protocols, logger)
	srv.AddHealthCheck("database", db.Ping)
	srv.AddHealthCheck("docker", rt.Ping)

	jan, err := janitor.New(janitor.Config{
		Schedule:  cfg.JanitorSchedule,
		WorkDir:   cfg.WorkDir,
		Retention: cfg.WorkDirRetention,
		Variables: vars,
		Active:    eng.Active,
	}, logger)
	if err != nil {
		return err
	}
	jan.Start()
	defer func() { <-jan.Stop().Done() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.NATSURL != "" {
		nc, err := queue.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		srv.AddHealthCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})

		consumer := queue.NewConsumer(nc, eng, cfg.NATSSubjectPrefix, cfg.MaxWorkers, logger)
		wg.Go(func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("nats consumer failed", "error", err)
			}
		})
	}

	err = srv.Run(ctx)
	cancel()

	// In-flight tasks stop at their next step boundary and record a
	// cancelled run.
	eng.CancelAll()
	eng.Wait()
	wg.Wait()

	if err != nil {
		return err
	}
	logger.Info("gantry: stopped")
	return nil
}
