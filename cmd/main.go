// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/teamsignups/internal/config"
	"github.com/Shivanand-hulikatti/teamsignups/internal/database"
	"github.com/Shivanand-hulikatti/teamsignups/internal/export"
	"github.com/Shivanand-hulikatti/teamsignups/internal/handler"
	"github.com/Shivanand-hulikatti/teamsignups/internal/logger"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/Shivanand-hulikatti/teamsignups/internal/repository"
	"github.com/Shivanand-hulikatti/teamsignups/internal/service"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "teamsignups",
		Usage: "Volunteer sign-up sheets: publish events with slots and let people claim them.",
		Commands: []*cli.Command{
			serveCommand(),
			exportCommand(),
		},
		// Running without a subcommand starts the server.
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "teamsignups: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API and serve the web front end.",
		Action: serve,
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Print the CSV projection of the stored events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to `FILE` instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := openStore(c.Context, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ReadAll(c.Context)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}

			if path := c.String("out"); path != "" {
				return exportToFile(path, events)
			}
			return export.WriteCSV(c.App.Writer, events)
		},
	}
}

// exportToFile writes the CSV projection to path. A failed close is reported,
// since buffered data may not have reached the file.
func exportToFile(path string, events []model.Event) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := export.WriteCSV(f, events); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func setup() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// openStore connects the configured storage backend.
func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		store, err := repository.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to PostgreSQL")
		return store, nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		store, err := repository.NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("opened SQLite store", "path", cfg.SQLitePath)
		return store, nil
	default:
		store, err := repository.NewFileStore(cfg.EventsPath())
		if err != nil {
			return nil, err
		}
		log.Info("opened file store", "path", store.Path())
		return store, nil
	}
}

func serve(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open storage ──────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	opts := []service.Option{service.WithDriverName(cfg.StoreDriver)}
	if cfg.CSVMirror {
		opts = append(opts, service.WithMirror(export.NewMirror(cfg.CSVPath())))
	}
	svc := service.NewSignupService(store, log.With("store", cfg.StoreDriver), opts...)
	// An existing snapshot gets its CSV mirror before the first write.
	if err := svc.SyncMirror(ctx); err != nil {
		log.Warn("csv mirror not refreshed at startup", "error", err)
	}
	eventHandler := handler.NewEventHandler(svc, log, cfg.MaxBodyBytes)

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is not set; event creation, deletion and overwrite are disabled")
	}

	// ── 3. Build the router ──────────────────────────────────────────────
	r := handler.NewRouter(eventHandler, handler.RouterConfig{
		AdminToken: cfg.AdminToken,
		WebRoot:    cfg.WebRoot,
	}, log)

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", "http://localhost:"+cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Block until SIGINT/SIGTERM or the server fails.
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
