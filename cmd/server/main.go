package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"crossword.ai/internal/config"
	"crossword.ai/internal/metrics"
	"crossword.ai/internal/persistence/indexdb"
	persistlog "crossword.ai/internal/persistence/log"
	"crossword.ai/internal/persistence/snapshot"
	"crossword.ai/internal/persistence/store"
	"crossword.ai/internal/registry"
	"crossword.ai/internal/reward"
	"crossword.ai/internal/transport/dispatch"
	"crossword.ai/internal/transport/httpapi"
	"crossword.ai/internal/transport/identity"
	"crossword.ai/internal/transport/ratelimit"
	"crossword.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/registry.yaml", "registry config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the audit/payout index (payouts are then only logged)")

		snapPath       = flag.String("snapshot", "", "snapshot to import into an empty store (optional)")
		loadLatest     = flag.Bool("load_latest_snapshot", true, "with the memory backend, import the newest snapshot from the data dir")
		snapshotOnExit = flag.Bool("snapshot_on_exit", true, "write a snapshot during graceful shutdown")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	storePath := cfg.Store.Path
	if storePath != "" && !filepath.IsAbs(storePath) {
		storePath = filepath.Join(*dataDir, storePath)
	}
	st, err := store.Open(store.Config{
		Backend: cfg.Store.Backend,
		Path:    storePath,
		Logger:  log.New(os.Stdout, "[store] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest && strings.EqualFold(cfg.Store.Backend, store.BackendMemory) {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Owner != cfg.OwnerID {
			logger.Fatalf("snapshot owner mismatch: config=%s snap=%s", cfg.OwnerID, snap.Owner)
		}
		if err := registry.ImportSnapshot(st, snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s puzzles=%d unsolved=%d", filepath.Base(snapshotToLoad), snap.Header.Puzzles, snap.Header.Unsolved)
	}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}

	m := metrics.New(func() float64 { return float64(idx.Stats().QueueDepth) })

	var payer reward.Payer = reward.LogPayer{Logger: log.New(os.Stdout, "[payout] ", log.LstdFlags|log.Lmicroseconds)}
	if idx != nil {
		payer = idx
	}
	payouts := reward.NewQueue(payer, reward.QueueConfig{
		Buffer:      cfg.Reward.QueueSize,
		MaxAttempts: cfg.Reward.MaxAttempts,
		Backoff:     time.Duration(cfg.Reward.BackoffMS) * time.Millisecond,
		Logger:      log.New(os.Stdout, "[reward] ", log.LstdFlags|log.Lmicroseconds),
		Observer:    m,
	})

	auditLog := persistlog.NewAuditLogger(*dataDir)
	hub := ws.NewHub()
	sinks := persistlog.MultiAudit{auditLog, hub}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	reg, err := registry.New(registry.Config{
		Owner:        cfg.OwnerID,
		RewardAmount: cfg.RewardAmount(),
		Logger:       log.New(os.Stdout, "[registry] ", log.LstdFlags|log.Lmicroseconds),
	}, st)
	if err != nil {
		logger.Fatalf("registry: %v", err)
	}
	reg.SetRewardDispatcher(payouts)
	reg.SetAuditLogger(sinks)
	reg.SetMetrics(m)

	ctx, cancel := signalContext()
	defer cancel()

	// The registry outlives the http server so shutdown can still snapshot.
	regCtx, regCancel := context.WithCancel(context.Background())
	regDone := make(chan struct{})
	go func() {
		defer close(regDone)
		if err := reg.Run(regCtx); err != nil && err != context.Canceled {
			logger.Printf("registry stopped: %v", err)
		}
	}()

	limiter := ratelimit.New(cfg.RateLimits.SubmitPerMinute, cfg.RateLimits.SubmitBurst)
	go limiter.RunCleanup(time.Minute, ctx.Done())

	ids := identity.NewVerifier(cfg.Auth.HMACSecret)
	if !ids.Enabled() {
		logger.Printf("auth: no hmac secret configured; account ids are trusted")
	}
	d := dispatch.New(reg, dispatch.Config{
		SubmitLimiter: limiter,
		Observer:      m,
		Logger:        logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/v1/", httpapi.NewServer(d, ids, logger))
	mux.HandleFunc("/v1/ws", ws.NewServer(d, ids, hub, ws.WelcomeInfo{
		Owner:        reg.Owner(),
		RewardAmount: reg.RewardAmount().String(),
		RewardDenom:  cfg.Reward.Denom,
	}, logger).Handler())

	if envBool("XW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, adminDeps{reg: reg, idx: idx, dataDir: *dataDir, log: logger})
	} else {
		logger.Printf("admin endpoints disabled (XW_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("XW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s owner=%s store=%s", *addr, reg.Owner(), cfg.Store.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}

	shutdown(reg, idx, *dataDir, *snapshotOnExit, logger)
	regCancel()
	<-regDone
	payouts.Close()
	if err := auditLog.Close(); err != nil {
		logger.Printf("close audit log: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
	}
	logger.Printf("stopped")
}

func shutdown(reg *registry.Registry, idx *indexdb.SQLiteIndex, dataDir string, snap bool, logger *log.Logger) {
	if !snap {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, h, err := writeSnapshot(ctx, reg, idx, dataDir)
	if err != nil {
		logger.Printf("exit snapshot: %v", err)
		return
	}
	logger.Printf("exit snapshot=%s puzzles=%d unsolved=%d", filepath.Base(path), h.Puzzles, h.Unsolved)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
