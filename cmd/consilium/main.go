package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"consilium/internal/bus"
	"consilium/internal/config"
	"consilium/internal/coordinator"
	"consilium/internal/message"
	"consilium/internal/scheduler"
	"consilium/internal/specialist"
	"consilium/internal/store"
	"consilium/internal/worker"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("consilium %s\n", version)
	case "gateway":
		err = runGateway()
	case "secrets":
		err = runSecrets(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: consilium <command>

Commands:
  gateway    Start the consultation gateway (broker, workers, coordinator, scheduler)
  check      Manage scheduled consultation checks
  secrets    Manage vault secrets
  backup     Archive the data directories to a .tar.zst file
  restore    Restore data directories from a backup archive
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting consilium gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	client, cleanup, err := connect(cfg.Bus)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.EnsureStream(bus.StreamName, bus.StreamSubjects(), cfg.Bus.MessageMaxAge); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	// Built-in specialists. Deployments with external specialist services
	// run their own workers against the same queues.
	for _, name := range cfg.Specialists {
		w := worker.New(client, message.SpecialistType(name), &specialist.Mock{}, cfg.Worker)
		go func(name string) {
			if err := w.Run(ctx); err != nil {
				slog.Error("worker stopped", "specialist", name, "error", err)
			}
		}(name)
	}
	slog.Info("specialist workers started", "count", len(cfg.Specialists))

	coord, err := coordinator.New(client, db, cfg.Coordinator)
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}
	defer coord.Close()

	cancelIPC, err := coord.ServeIPC()
	if err != nil {
		return fmt.Errorf("serve ipc: %w", err)
	}
	defer cancelIPC()

	sched := scheduler.New(db, coord, cfg.Scheduler)
	go sched.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// connect returns a bus client, starting the embedded broker unless an
// external URL is configured.
func connect(cfg config.BusConfig) (*bus.Client, func(), error) {
	if cfg.URL != "" {
		client, err := bus.NewClientFromURL(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to broker: %w", err)
		}
		slog.Info("connected to external broker", "url", cfg.URL)
		return client, client.Close, nil
	}

	b, err := bus.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("start broker: %w", err)
	}
	client, err := bus.NewClient(b)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	slog.Info("embedded broker started", "port", b.Port())
	return client, func() {
		client.Close()
		b.Close()
	}, nil
}
