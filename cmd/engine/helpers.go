package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/montabano1/RyanScraper/internal/config"
	"github.com/montabano1/RyanScraper/internal/poll"
	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/scheduler"
	"github.com/montabano1/RyanScraper/internal/scrape"
	"github.com/montabano1/RyanScraper/internal/scrape/util"
	"github.com/montabano1/RyanScraper/internal/secrets"
	"github.com/montabano1/RyanScraper/internal/store"
)

func storeOptions(cfg config.Config) store.Options {
	return store.Options{PartialWrite: store.PartialWritePolicy(cfg.Store.PartialWrite)}
}

// openStore opens and migrates the configured backend.
func openStore(cfg config.Config, dataDir string, log *slog.Logger) (store.Store, error) {
	opts := storeOptions(cfg)

	switch cfg.Store.Backend {
	case "file":
		fs, err := store.NewFileStore(dataDir, opts)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		log.Debug("store ready", "backend", "file", "dir", dataDir)
		return fs, nil

	case "postgres":
		dsn, err := secrets.ResolveDSN(cfg.Store.PostgresDSN, secrets.KeyringAccount(cfg))
		if err != nil {
			return nil, err
		}
		db, err := store.OpenPostgres(dsn, cfg.Store.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Debug("store ready", "backend", "postgres")
		return store.NewSQLStore(db, opts), nil

	default:
		path := cfg.Store.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		if err := store.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		log.Debug("store ready", "backend", "sqlite", "path", path)
		return store.NewSQLStore(db, opts), nil
	}
}

func reconcilePolicy(cfg config.Config) reconcile.Policy {
	return reconcile.Policy{
		Strategy:        reconcile.Strategy(cfg.Store.Strategy),
		DeleteOnRemoval: cfg.Store.DeleteOnRemoval,
		EmptyResult:     reconcile.EmptyResultPolicy(cfg.Store.EmptyResult),
	}
}

func retryPolicy(cfg config.Config) scrape.RetryPolicy {
	r := cfg.Scraping.Retry
	return scrape.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay(),
		Multiplier:  r.Multiplier,
	}
}

// buildSources turns the enabled rows of the scraper table into runnable sources.
// All scrapers share one HTTP client and one per-host limiter.
func buildSources(cfg config.Config) ([]poll.Source, error) {
	deps := scrape.Deps{
		Client:    &http.Client{Timeout: 30 * time.Second},
		Limiter:   util.NewHostLimiter(cfg.Scraping.RequestsPerSecond, cfg.Scraping.Burst),
		UserAgent: cfg.Scraping.UserAgent,
	}
	reg := scrape.DefaultRegistry()

	var out []poll.Source
	for _, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		sc, err := reg.Build(s.ID, scrape.Spec{
			Kind:     s.Kind,
			URL:      s.URL,
			Item:     s.Item,
			Fields:   s.Fields,
			NextPage: s.NextPage,
			MaxPages: s.MaxPages,
			Headers:  s.Headers,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.ID, err)
		}
		out = append(out, poll.Source{
			Name:        s.ID,
			DisplayName: s.Name,
			Scraper:     sc,
			Interval:    s.Interval(),
			Timeout:     s.Timeout(),
		})
	}
	return out, nil
}

// schedulerJobs runs each source on its own interval through the runner, so
// scheduled and manual runs share the per-source lock and coalescing.
func schedulerJobs(r *poll.Runner) []scheduler.Job {
	var jobs []scheduler.Job
	for _, s := range r.Sources() {
		name := s.Name
		jobs = append(jobs, scheduler.Job{
			Name:     name,
			Interval: s.Interval,
			Task: func(ctx context.Context) error {
				_, err := r.RunSource(ctx, name)
				return err
			},
		})
	}
	return jobs
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func shutdownHandler(token *string, srv *http.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// local-only guard
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "127.0.0.1" && host != "::1" && host != "localhost" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		got := r.Header.Get("X-Shutdown-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(*token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// respond first, then shut down asynchronously
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down\n"))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}
}
