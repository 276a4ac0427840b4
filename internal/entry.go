// Package internal wires the conversion pipeline end to end and hosts the
// serve, watch, and mcp entry points that reuse it.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notemill/notemill/internal/filter"
	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/index"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/mcptool"
	"github.com/notemill/notemill/internal/preview"
	"github.com/notemill/notemill/internal/progress"
	"github.com/notemill/notemill/internal/report"
	"github.com/notemill/notemill/internal/source"
	"github.com/notemill/notemill/internal/sse"
	"github.com/notemill/notemill/internal/vault"
	"github.com/notemill/notemill/internal/watch"
	"github.com/notemill/notemill/internal/writer"

	// Source adapters register their formats at init.
	_ "github.com/notemill/notemill/internal/source/enex"
	_ "github.com/notemill/notemill/internal/source/joplin"
	_ "github.com/notemill/notemill/internal/source/mdtree"
)

// Run executes one conversion: parse every configured source, merge the
// sub-forests, filter, assign paths, write the vault, and emit the
// manifest. The returned summary is non-nil whenever a run id was
// allocated, including on failure.
func Run(ctx context.Context, opts ...Option) (*report.Summary, error) {
	app := newApplication(opts...)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg)
	}

	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	summary := report.New()
	logger.Info("run starting",
		slog.String("run_id", summary.RunID),
		slog.Int("sources", len(cfg.Sources)),
		slog.String("output", cfg.Output.Dir))

	// Parse sources in parallel; a failure costs only that sub-forest.
	subs := make([]*imf.Forest, len(cfg.Sources))
	srcErrs := make([]error, len(cfg.Sources))
	g, gCtx := errgroup.WithContext(ctx)
	for i, sc := range cfg.Sources {
		g.Go(func() error {
			p, err := source.New(sc.Format, sc.Path, logger)
			if err != nil {
				srcErrs[i] = err
				return nil
			}
			f, err := p.Parse(gCtx)
			if err != nil {
				srcErrs[i] = err
				return nil
			}
			subs[i] = f
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		summary.Finish()
		return summary, err
	}

	// Merge in configured order so cross-source determinism holds.
	forest := imf.NewForest()
	failed := 0
	for i, sc := range cfg.Sources {
		if srcErrs[i] == nil && subs[i] != nil {
			if err := forest.Merge(subs[i]); err != nil {
				srcErrs[i] = err
			}
		}
		if srcErrs[i] != nil {
			failed++
			logger.Error("source failed",
				slog.String("format", sc.Format),
				slog.String("path", sc.Path),
				slog.String("error", srcErrs[i].Error()))
			summary.SourceErrors = append(summary.SourceErrors, report.SourceError{
				Source: sc.Path,
				Err:    srcErrs[i].Error(),
			})
		}
	}
	if failed == len(cfg.Sources) {
		summary.Finish()
		return summary, fmt.Errorf("all %d sources failed", failed)
	}

	fl, err := filter.New(cfg.Filter.Predicates())
	if err != nil {
		summary.Finish()
		return summary, err
	}
	forest, removed := fl.Apply(forest)
	summary.Counts.NotesFiltered = removed

	forest.Sort(cfg.Output.Comparator())

	platform, err := layout.ResolvePlatform(cfg.Output.Platform)
	if err != nil {
		summary.Finish()
		return summary, err
	}
	plan, err := layout.Determine(forest, layout.Options{
		Platform:    platform,
		Naming:      layout.Naming(cfg.Output.Naming),
		ResourceDir: cfg.Output.ResourceDir,
	})
	if err != nil {
		summary.Finish()
		return summary, err
	}
	summary.AddPathErrors(plan.Errors)

	notebooks, notes, _, links := forest.Count()
	summary.Counts.Notebooks = notebooks
	summary.Counts.Notes = notes
	summary.Counts.Resources = len(plan.Resources)
	summary.Counts.Links = links

	flavor, err := writer.ParseFlavor(cfg.Output.Flavor)
	if err != nil {
		summary.Finish()
		return summary, err
	}

	v, err := vault.Create(cfg.Output.Dir)
	if err != nil {
		summary.Finish()
		return summary, err
	}
	if err := freshenVault(v, logger); err != nil {
		summary.Finish()
		return summary, err
	}

	bar := progress.New(len(plan.Notes) + len(plan.Resources))
	defer bar.Close()

	res, err := writer.Write(ctx, forest, plan, v, writer.Options{
		Flavor:          flavor,
		IncludeSourceID: cfg.Output.IncludeSourceID,
		Progress:        bar.Update,
		Logger:          logger,
	})
	if res != nil {
		summary.Counts.NotesWritten = res.NotesWritten
		summary.Counts.ResourcesWritten = res.ResourcesWritten
		summary.Counts.LinksResolved = res.LinksResolved
		summary.LinkFailures = res.LinkFailures
		summary.WriteErrors = res.WriteErrors
	}
	if err != nil {
		// Cancelled: stop after the current item, keep partial output.
		summary.Finish()
		return summary, err
	}
	bar.Finish("done")

	summary.Finish()
	if err := writer.EmitManifest(v, report.BuildManifest(summary, plan)); err != nil {
		return summary, err
	}

	if cfg.Index.Enabled {
		if err := buildIndex(cfg, v, plan, logger); err != nil {
			logger.Warn("index build failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("run finished",
		slog.String("run_id", summary.RunID),
		slog.Int("notes_written", summary.Counts.NotesWritten),
		slog.Int("resources_written", summary.Counts.ResourcesWritten),
		slog.Bool("clean", summary.Clean()))
	return summary, nil
}

// RunWatch converts once, then re-converts whenever a configured source
// changes. Conversion failures are logged and watching continues; the next
// change gets another chance.
func RunWatch(ctx context.Context, opts ...Option) error {
	app := newApplication(opts...)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg)
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	runOpts := append([]Option{WithLogger(logger)}, opts...)
	if _, err := Run(ctx, runOpts...); err != nil {
		logger.Error("initial conversion failed", slog.String("error", err.Error()))
	}

	return watch.Watch(ctx, watch.Options{
		Paths:    sourcePaths(cfg),
		Debounce: cfg.Watch.Interval(),
		Logger:   logger,
	}, func(wctx context.Context) error {
		_, err := Run(wctx, runOpts...)
		return err
	})
}

// RunServe starts the read-only preview server over a converted vault.
// With serve.watch enabled it also re-converts on source changes and
// streams run events to connected clients.
func RunServe(ctx context.Context, opts ...Option) error {
	app := newApplication(opts...)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg)
	}

	store, err := vault.NewFS(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	manifest, err := loadManifest(store)
	if err != nil {
		return err
	}

	var q index.Querier
	if cfg.Index.Enabled {
		db, err := openIndex(cfg, store, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		q = db
	}

	var broker *sse.Broker
	var reload http.Handler
	if cfg.Serve.Watch && len(cfg.Sources) > 0 {
		broker = sse.NewBroker()
		defer broker.Close()
		reload = broker
	}

	svc := preview.NewService(store, manifest, q, cfg.Output.ResourceDir, logger)
	router := preview.NewRouter(svc, cfg.Serve.Auth.AuthEnabled(), cfg.Serve.Auth.Token, reload)

	httpServer := &http.Server{
		Addr:    cfg.Serve.Address(),
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if broker != nil {
		runOpts := append([]Option{WithLogger(logger)}, opts...)
		g.Go(func() error {
			return watch.Watch(gCtx, watch.Options{
				Paths:    sourcePaths(cfg),
				Debounce: cfg.Watch.Interval(),
				Logger:   logger,
			}, func(wctx context.Context) error {
				broker.PublishRunStarted("")
				s, err := Run(wctx, runOpts...)
				if err != nil {
					return err
				}
				if m, err := loadManifest(store); err == nil {
					svc.SetManifest(m)
				}
				broker.PublishRunFinished(s.RunID, s.Counts.NotesWritten, s.Failures())
				return nil
			})
		})
	}

	g.Go(func() error {
		logger.Info("preview server listening", slog.String("address", cfg.Serve.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down preview server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("serve error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("preview server stopped")
	return nil
}

// RunMCP serves the read-only MCP tools over stdio until the client
// disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts...)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg)
	}

	store, err := vault.NewFS(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	manifest, err := loadManifest(store)
	if err != nil {
		return err
	}

	var q index.Querier
	if cfg.Index.Enabled {
		db, err := openIndex(cfg, store, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		q = db
	}

	logger.Info("mcp server listening on stdio", slog.String("vault", store.Root()))
	return mcptool.New(store, manifest, q).ServeStdio()
}

// newLogger builds the process-wide JSON logger. Logs go to stderr because
// stdout carries the run summary (convert) or the protocol stream (mcp).
func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// freshenVault clears previous run output so every conversion is a fresh
// tree build. A non-empty directory without a manifest was not produced by
// a converter run; it is written over rather than deleted. The metadata
// directory survives in place because a concurrently running preview
// server may hold its index open.
func freshenVault(v *vault.FS, logger *slog.Logger) error {
	empty, err := v.Empty()
	if err != nil || empty {
		return err
	}
	if _, err := v.Read(report.ManifestPath); err != nil {
		logger.Warn("output directory is not empty and has no manifest; writing over it",
			slog.String("dir", v.Root()))
		return nil
	}
	return v.Wipe(layout.MetaDirName)
}

// buildIndex rebuilds the vault search index from a finished run.
func buildIndex(cfg *Config, v *vault.FS, plan *layout.Plan, logger *slog.Logger) error {
	dsn := cfg.Index.Path
	if dsn == "" {
		dsn = index.DefaultPath(v.Root())
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return index.Build(db, v, plan, logger)
}

// openIndex opens the vault's search index and reconciles it with the
// files on disk. Callers own the returned handle.
func openIndex(cfg *Config, store *vault.FS, logger *slog.Logger) (*index.DB, error) {
	dsn := cfg.Index.Path
	if dsn == "" {
		dsn = index.DefaultPath(store.Root())
	}
	db, err := index.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("index sync failed", slog.String("error", err.Error()))
	}
	return db, nil
}

// loadManifest reads the manifest a previous conversion left in the vault.
func loadManifest(store vault.Provider) (*report.Manifest, error) {
	data, err := store.Read(report.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("no manifest in %s (run convert first): %w", store.Root(), err)
	}
	return report.DecodeManifest(data)
}

func sourcePaths(cfg *Config) []string {
	paths := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		paths = append(paths, s.Path)
	}
	return paths
}
