package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"settlement-engine/internal/config"
	"settlement-engine/internal/events"
	"settlement-engine/internal/lock"
	"settlement-engine/internal/logger"
	"settlement-engine/internal/scenario"
	"settlement-engine/internal/store"
	"settlement-engine/internal/store/postgres"
)

func main() {
	scenarioPath := flag.String("scenario", "scenarios/lifecycle.yaml", "path to scenario file")
	jsonReport := flag.Bool("json", false, "print the report as JSON")
	showEvents := flag.Bool("events", false, "print settlement events")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't build logger: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, log, *scenarioPath, *jsonReport, *showEvents)
	cancel()
	_ = log.Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, path string, jsonReport, showEvents bool) int {
	sc, err := scenario.Load(path)
	if err != nil {
		log.Error("couldn't load scenario", zap.String("path", path), zap.Error(err))
		return 2
	}

	ms, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("couldn't open store", zap.Error(err))
		return 2
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		log.Error("couldn't open locker", zap.Error(err))
		return 2
	}
	defer closeLocker()

	hubCtx, stopHub := context.WithCancel(ctx)
	hub := events.NewHub(log.Named("events"))
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	var (
		wg        sync.WaitGroup
		published []events.Event
	)
	if showEvents {
		sub, err := hub.Subscribe(ctx, 1024)
		if err != nil {
			stopHub()
			log.Error("couldn't subscribe to events", zap.Error(err))
			return 2
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.C {
				published = append(published, ev)
			}
		}()
	}

	report, err := scenario.Run(ctx, sc, scenario.Options{
		Store:     ms,
		Locker:    locker,
		Hub:       hub,
		Logger:    log,
		OracleKey: cfg.OraclePrivateKey,

		WatchInterval: cfg.WatchInterval,
	})
	stopHub()
	<-hubDone
	wg.Wait()
	if err != nil {
		log.Error("scenario setup failed", zap.String("scenario", sc.Name), zap.Error(err))
		return 2
	}

	for _, ev := range published {
		data, err := ev.Marshal()
		if err != nil {
			log.Warn("couldn't encode event", zap.String("event", ev.Type), zap.Error(err))
			continue
		}
		fmt.Println(string(data))
	}

	if jsonReport {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Error("couldn't encode report", zap.Error(err))
			return 2
		}
		fmt.Println(string(out))
	} else {
		printReport(report)
	}

	if !report.Passed() {
		log.Warn("scenario failed", zap.String("scenario", report.Name), zap.Int("failures", len(report.Failures)))
		return 1
	}
	log.Info("scenario passed", zap.String("scenario", report.Name), zap.Int("steps", len(report.Steps)))
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.MarketStore, func(), error) {
	if cfg.Store != config.StorePostgres {
		log.Info("using in-memory market store")
		return store.NewMemory(), func() {}, nil
	}

	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PostgresMaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := client.RunMigrations(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info("using postgres market store")
	return postgres.NewMarketStore(client.Pool()), client.Close, nil
}

func openLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	r, err := lock.NewRedis(ctx, lock.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.LockTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("using redis market locks", zap.String("addr", cfg.RedisAddr))
	return r, func() { _ = r.Close() }, nil
}

func printReport(r *scenario.Report) {
	fmt.Printf("Scenario: %s\n", r.Name)
	fmt.Printf("Oracle:   %s\n", r.Oracle)
	fmt.Printf("Market:   %s (%s)\n\n", r.Market.ID, r.Market.Status)

	for _, st := range r.Steps {
		mark := "ok"
		if !st.OK {
			mark = "FAIL"
		}
		outcome := "success"
		if st.Got != "" {
			outcome = st.Got
		}
		fmt.Printf("  %-4s %2d %-12s %s\n", mark, st.Index, st.Action, outcome)
	}

	if len(r.Checks) > 0 {
		fmt.Println()
		for _, c := range r.Checks {
			mark := "ok"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  %-4s %s/%s = %d\n", mark, c.Account, c.Asset, c.Got)
		}
	}

	fmt.Println()
	for _, a := range r.Assets {
		fmt.Printf("  asset %s supply=%d holders=%d\n", a.Asset.Hex(), a.Supply, len(a.Balances))
	}
	if n := len(r.Receipts); n > 0 {
		fmt.Printf("  ledger version %d\n", r.Receipts[n-1].Version)
	}

	fmt.Printf("\nCollateral minted %s, released %s\n", r.Market.CollateralMinted, r.Market.CollateralReleased)
	if r.Passed() {
		fmt.Println("PASS")
		return
	}
	fmt.Println("FAIL")
	for _, f := range r.Failures {
		fmt.Printf("  - %s\n", f)
	}
}
