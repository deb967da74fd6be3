// Package main is the entry point for the ergoquiz server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/ergoquiz/internal/config"
	"github.com/conorfennell/ergoquiz/internal/content"
	"github.com/conorfennell/ergoquiz/internal/httpclient"
	"github.com/conorfennell/ergoquiz/internal/logging"
	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/parser"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/storage"
	"github.com/conorfennell/ergoquiz/internal/store"
	"github.com/conorfennell/ergoquiz/internal/themes"
	"github.com/conorfennell/ergoquiz/internal/transfer"
	"github.com/conorfennell/ergoquiz/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := logging.Setup(os.Stderr, cfg.Log.Format, cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.Sync {
		if err := syncContent(cfg); err != nil {
			slog.Error("content sync failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Import != "" {
		if err := importMarkdown(cfg); err != nil {
			slog.Error("markdown import failed", "file", cfg.Import, "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// syncContent pulls the content repository and reports anything the
// catalog or the manifest reference that is missing.
func syncContent(cfg *config.Config) error {
	report, err := content.Sync(context.Background(), contentConfig(cfg), cfg.Cache.Manifest)
	if err != nil {
		return err
	}

	slog.Info("content reconciled",
		"themes", report.Themes,
		"questions", report.Questions,
		"orphaned", len(report.Orphaned),
	)
	for _, p := range report.Orphaned {
		slog.Warn("orphaned question document", "path", p)
	}
	if !report.OK() {
		return fmt.Errorf("content incomplete: missing themes %v, invalid themes %v, missing assets %v",
			report.MissingThemes, report.InvalidThemes, report.MissingAssets)
	}
	return nil
}

func contentConfig(cfg *config.Config) content.Config {
	return content.Config{
		Dir:          cfg.Content.Dir,
		GitURL:       cfg.Content.GitURL,
		Branch:       cfg.Content.Branch,
		CheckoutRoot: cfg.Content.CheckoutRoot,
	}
}

// importMarkdown stores the cards of the --import file as a custom theme
// named after the file.
func importMarkdown(cfg *config.Config) error {
	ctx := context.Background()
	st, _, closeAll, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	title := strings.TrimSuffix(filepath.Base(cfg.Import), filepath.Ext(cfg.Import))
	raw, err := parser.ThemeFile(cfg.Import, "", title)
	if err != nil {
		return err
	}
	theme, report, err := themes.Import(raw, time.Now())
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		slog.Warn("theme imported with warning", "warning", w)
	}
	if err := progress.New(st).Themes.Save(ctx, theme); err != nil {
		return err
	}
	slog.Info("custom theme imported", "id", theme.ID, "title", theme.Title, "questions", len(theme.Questions))
	return nil
}

// openStore opens the progress store and, when any component needs it,
// the SQLite database. closeAll releases both.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *storage.DB, func(), error) {
	var db *storage.DB
	if cfg.UsesSQLite() {
		var err error
		db, err = storage.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		slog.Info("database opened", "path", cfg.SQLite.Path)
	}

	st, err := store.Open(ctx, store.Config{
		Backend:  cfg.Store.Backend,
		FilePath: cfg.Store.FilePath,
		Redis: store.RedisConfig{
			URL:    cfg.Store.RedisURL,
			Prefix: cfg.Store.RedisPrefix,
			TTL:    cfg.Store.RedisTTL,
		},
	}, func() (store.Store, error) {
		return db, nil
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	slog.Info("progress store ready", "backend", cfg.Store.Backend)

	closeAll := func() {
		if cfg.Store.Backend != store.BackendSQLite {
			st.Close()
		}
		if db != nil {
			db.Close()
		}
	}
	return st, db, closeAll, nil
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	st, db, closeAll, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	manager, err := newManager(cfg, db)
	if err != nil {
		return err
	}
	if _, err := manager.Install(ctx); err != nil {
		return err
	}
	if _, err := manager.Activate(ctx); err != nil {
		return err
	}
	defer manager.Wait()

	repos := progress.New(st)
	catalog := themes.NewCatalog(manager, repos.Themes)
	if bundled, err := catalog.Bundled(ctx); err != nil {
		slog.Warn("bundled themes not loaded, custom themes only", "error", err)
	} else {
		slog.Info("bundled themes loaded", "count", len(bundled))
	}

	handler := web.NewServer(web.Options{
		Manager:   manager,
		Catalog:   catalog,
		Resolver:  themes.NewResolver(manager, repos.Themes),
		Repos:     repos,
		Transfer:  transfer.NewEngine(repos),
		BodyLimit: cfg.Server.BodyLimit,
		Metrics:   cfg.Server.Metrics,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "address", cfg.Server.Addr, "cache_version", cfg.Cache.Version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// newManager builds the cache manager over the configured partition
// storage, fetching from the remote origin or the local content root.
func newManager(cfg *config.Config, db *storage.DB) (*offline.Manager, error) {
	var partitions offline.CacheStorage = offline.NewMemoryStorage()
	if cfg.Cache.Storage == "sqlite" {
		partitions = db
	}

	var fetcher offline.Fetcher
	if cfg.LocalContent() {
		dir, err := contentConfig(cfg).Root()
		if err != nil {
			return nil, err
		}
		fetcher = offline.NewHandlerFetcher(content.Handler(dir))
		slog.Info("serving local content", "dir", dir)
	} else {
		client := httpclient.New(httpclient.ClientConfig{Timeout: cfg.Cache.Timeout})
		remote, err := offline.NewHTTPFetcher(cfg.Cache.Origin, client)
		if err != nil {
			return nil, err
		}
		fetcher = remote
		slog.Info("proxying remote content", "origin", cfg.Cache.Origin)
	}

	return offline.New(offline.Config{
		Version:            cfg.Cache.Version,
		Manifest:           cfg.Cache.Manifest,
		FallbackMessage:    cfg.Cache.FallbackMessage,
		InstallConcurrency: cfg.Cache.InstallConcurrency,
	}, partitions, fetcher)
}
