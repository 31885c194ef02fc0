package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradegate/gatewatch/internal/api"
	"github.com/tradegate/gatewatch/internal/bridge"
	"github.com/tradegate/gatewatch/internal/config"
	"github.com/tradegate/gatewatch/internal/conncheck"
	"github.com/tradegate/gatewatch/internal/connmgr"
	"github.com/tradegate/gatewatch/internal/exchange"
	"github.com/tradegate/gatewatch/internal/notify"
	"github.com/tradegate/gatewatch/internal/policy"
	"github.com/tradegate/gatewatch/internal/probe"
	"github.com/tradegate/gatewatch/internal/status"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	log.Printf(
		"gatewatch starting (endpoints=%d fallbacks=%d probe_timeout=%s recheck=%s credentials=%t)",
		len(cfg.Connectivity.InternetEndpoints),
		len(cfg.Connectivity.ExchangeFallbackURLs),
		cfg.Connectivity.ProbeTimeout,
		cfg.Connectivity.RecheckInterval,
		cfg.HasCredentials(),
	)

	var store policy.Store
	boltStore, err := policy.OpenBolt(cfg.PolicyDBPath)
	if err != nil {
		log.Printf("warning: policy db: %v, overrides will not survive a restart", err)
		store = policy.NewMemoryStore()
	} else {
		store = boltStore
		defer boltStore.Close()
	}

	httpClient := &http.Client{Timeout: cfg.Connectivity.ProbeTimeout}
	internetProbes := make([]probe.Probe, 0, len(cfg.Connectivity.InternetEndpoints))
	for _, url := range cfg.Connectivity.InternetEndpoints {
		internetProbes = append(internetProbes, probe.HTTP(httpClient, url))
	}

	fallbacks := make([]exchange.Transport, 0, len(cfg.Connectivity.ExchangeFallbackURLs))
	for _, url := range cfg.Connectivity.ExchangeFallbackURLs {
		fallbacks = append(fallbacks, exchange.PingTransport(url, url))
	}

	var account exchange.AccountReader
	if cfg.HasCredentials() {
		account = exchange.NewBinance(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.Connectivity.ExchangeBaseURL)
	} else {
		log.Println("no exchange credentials: account stage will stay unknown")
	}

	stages := conncheck.NewStages()
	checker := conncheck.New(stages, conncheck.Config{
		InternetProbes:    internetProbes,
		Direct:            exchange.PingTransport(cfg.Connectivity.ExchangeBaseURL, cfg.Connectivity.ExchangeBaseURL),
		Fallbacks:         fallbacks,
		Account:           account,
		ProbeTimeout:      cfg.Connectivity.ProbeTimeout,
		AccountAttempts:   cfg.Connectivity.AccountAttempts,
		AccountRetryDelay: cfg.Connectivity.AccountRetryDelay,
	})

	pub := status.NewPublisher()
	hub := status.NewHub(pub, nil)

	var notifier connmgr.Notifier
	tg := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, nil)
	if tg.Enabled() {
		notifier = tg
		log.Println("telegram notifications enabled")
	}

	mgr := connmgr.New(connmgr.Options{
		Checker:  checker,
		Stages:   stages,
		Store:    store,
		Pub:      pub,
		Notifier: notifier,
		Interval: cfg.Connectivity.RecheckInterval,
	})

	br := bridge.New(mgr, store, cfg.Connectivity.SettleDelay, nil)
	netWatcher := bridge.NewNetWatcher(br, cfg.Connectivity.NetPollInterval, nil)
	resumeWatcher := bridge.NewResumeWatcher(br, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	recheckCh := make(chan os.Signal, 1)
	signal.Notify(recheckCh, syscall.SIGUSR1)
	go func() {
		for range recheckCh {
			log.Println("SIGUSR1: connectivity recheck requested")
			br.RequestCheck()
		}
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, mgr, store, checker, br, hub.HandleWebSocket)
		if err := apiServer.Start(ctx); err != nil {
			log.Printf("warning: api server failed to start: %v", err)
		}
	}

	go hub.Run(ctx)
	go br.Run(ctx)
	go netWatcher.Run(ctx)
	go resumeWatcher.Run(ctx)
	go mgr.Run(ctx)

	// Initial verification before the periodic loop takes over.
	go mgr.RunFullCheck(ctx)

	<-sigCh
	log.Println("shutdown signal received")
	cancel()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = apiServer.Shutdown(shutdownCtx)
	}
}
