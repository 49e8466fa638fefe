package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/montabano1/RyanScraper/internal/config"
	"github.com/montabano1/RyanScraper/internal/events"
	"github.com/montabano1/RyanScraper/internal/httpapi"
	"github.com/montabano1/RyanScraper/internal/logging"
	"github.com/montabano1/RyanScraper/internal/metrics"
	"github.com/montabano1/RyanScraper/internal/poll"
	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/scheduler"
	"github.com/montabano1/RyanScraper/internal/secrets"
)

func main() {
	defaultCfgPath := flag.String("default-config", filepath.Join("config", "config.yml"), "config copied into the data dir on first start")
	once := flag.Bool("once", false, "run every enabled source once and exit")
	setDBPassword := flag.Bool("set-db-password", false, "read the postgres password from stdin, store it in the OS keychain and exit")
	flag.Parse()

	if err := run(*defaultCfgPath, *once, *setDBPassword); err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}
}

func run(defaultCfgPath string, once, setDBPassword bool) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	// Engine data dir: env wins, else the working directory.
	dataDir := config.DataDir()
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		return fmt.Errorf("config bootstrap failed: %w", err)
	}

	loadCfg := func() (config.Config, error) {
		cfg, err := config.Load(userCfgPath)
		if err != nil {
			return cfg, err
		}
		if err := config.OverlaySources(&cfg, filepath.Join(dataDir, "sources.yml")); err != nil {
			return cfg, fmt.Errorf("sources.yml: %w", err)
		}
		config.ApplyEnv(&cfg)
		cfg.App.DataDir = dataDir
		return cfg, nil
	}
	raw, err := loadCfg()
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", userCfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(raw)

	log := logging.New(cfg.App.LogLevel)
	for _, w := range vr.Warnings {
		log.Warn("config", "warning", w)
	}
	if !vr.OK() {
		return config.Validate(raw)
	}

	if setDBPassword {
		return storeDBPassword(cfg, os.Stdin)
	}

	var cfgVal atomic.Value // stores config.Config
	cfgVal.Store(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, dataDir, log)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, err := reconcile.NewLocker(filepath.Join(dataDir, "locks"))
	if err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	m := metrics.New()
	rec := reconcile.New(st, reconcilePolicy(cfg),
		reconcile.WithLocker(locker),
		reconcile.WithLogger(log),
		reconcile.WithObserver(m),
	)

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	hub := events.NewHub()
	runner := poll.NewRunner(poll.Deps{
		BaseCtx:    ctx,
		Reconciler: rec,
		Publisher:  hub,
		Log:        log,
		Workers:    cfg.Scraping.Workers,
		Retry:      retryPolicy(cfg),
		Timeout:    cfg.Scraping.Timeout(),
	}, sources)

	if once {
		failed := 0
		for _, o := range runner.RunAll(ctx) {
			if o.Err != nil {
				failed++
				log.Error("run failed", "source", o.Source, "err", o.Err)
				continue
			}
			log.Info("run done", "source", o.Source, "new", len(o.Result.New),
				"modified", len(o.Result.Modified), "removed", len(o.Result.Removed), "unchanged", o.Result.Unchanged)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(sources))
		}
		return nil
	}

	sched := scheduler.New(log)
	sched.Start(ctx, schedulerJobs(runner)...)

	handler := httpapi.NewRouter(httpapi.Deps{
		Store:       st,
		Runner:      runner,
		Schedule:    sched,
		Hub:         hub,
		Metrics:     m.Handler(),
		Log:         log,
		BaseCtx:     ctx,
		CfgVal:      &cfgVal,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
	})

	ln, err := net.Listen("tcp", cfg.App.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
	}

	token := os.Getenv("SCRAPER_SHUTDOWN_TOKEN")
	if token == "" {
		if token, err = randomToken(16); err != nil {
			return err
		}
	}
	root := http.NewServeMux()
	root.Handle("/shutdown", shutdownHandler(&token, srv))
	root.Handle("/", handler)
	srv.Handler = root

	log.Info("engine listening",
		"addr", "http://"+ln.Addr().String(),
		"data_dir", dataDir,
		"backend", cfg.Store.Backend,
		"strategy", cfg.Store.Strategy,
		"sources", len(sources),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	stop()
	sched.Wait()
	return nil
}

func storeDBPassword(cfg config.Config, in *os.File) error {
	account := secrets.KeyringAccount(cfg)
	if account == "" {
		return errors.New("set store.keyring_account or a URL store.postgres_dsn first")
	}
	pw, err := readLine(in)
	if err != nil {
		return err
	}
	if err := secrets.SetDBPassword(account, pw); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored password for %s\n", account)
	return nil
}
