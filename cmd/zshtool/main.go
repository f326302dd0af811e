package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CLIAIMONITOR/internal/alan"
	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/dashboard"
	"github.com/CLIAIMONITOR/internal/executor"
	"github.com/CLIAIMONITOR/internal/neverhang"
	"github.com/CLIAIMONITOR/internal/notify"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/tools"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides ZSHTOOL_CONFIG_FILE)")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("ZSHTOOL_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zshtool: %v\n", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(cfg.AlanDBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "zshtool: create data dir: %v\n", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.AlanDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zshtool: open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	eventBus := bus.Start(bus.Config{Port: cfg.BusPort})
	defer eventBus.Shutdown()

	a := alan.New(st, alan.Config{
		DecayHalfLifeHours: cfg.AlanDecayHalfLifeHours,
		PruneThreshold:     cfg.AlanPruneThreshold,
		PruneInterval:      cfg.AlanPruneInterval,
		MaxEntries:         cfg.AlanMaxEntries,
		ManoptEnabled:      cfg.AlanManoptEnabled,
		ManoptFailTrigger:  cfg.AlanManoptFailTrigger,
		ManoptFailPresent:  cfg.AlanManoptFailPresent,
		ManoptTimeout:      cfg.AlanManoptTimeout,
	}, eventBus)

	breaker := neverhang.New(cfg.NeverhangFailureThreshold, cfg.NeverhangRecoveryTimeout, cfg.NeverhangSampleWindow)
	notifier := notify.New(cfg.NotifyEnabled)
	breaker.OnTransition(func(t neverhang.Transition) {
		eventBus.Publish(bus.SubjectNeverhangTransition, t)
		if t.To == neverhang.Open {
			notifier.NeverhangOpened(t.Reason)
		}
	})

	exec := executor.New(a, breaker, eventBus, notifier, executor.Config{
		TimeoutDefault:    cfg.NeverhangTimeoutDefault,
		TimeoutMax:        cfg.NeverhangTimeoutMax,
		YieldAfterDefault: cfg.YieldAfterDefault,
		TruncateOutputAt:  cfg.TruncateOutputAt,
	})

	svc := &tools.Service{Executor: exec, Alan: a, Breaker: breaker}
	registry := svc.BuildRegistry()
	server := tools.NewServer(registry, log.New(os.Stderr, "[zshtool] ", log.LstdFlags))

	var httpServer *http.Server
	if cfg.DashboardAddr != "" {
		dash := dashboard.New(exec, breaker, eventBus)
		dash.Run()
		httpServer = &http.Server{Addr: cfg.DashboardAddr, Handler: dash.Router()}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[zshtool] dashboard server error: %v", err)
			}
		}()
		log.Printf("[zshtool] dashboard listening on %s", cfg.DashboardAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(os.Stdin, os.Stdout) }()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Printf("[zshtool] stdio loop exited: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("[zshtool] received %s, shutting down", sig)
	}

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
}
