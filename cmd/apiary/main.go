package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsgo "github.com/nats-io/nats.go"

	"github.com/apiarist/apiary/internal/advisory"
	"github.com/apiarist/apiary/internal/bus"
	"github.com/apiarist/apiary/internal/collab"
	"github.com/apiarist/apiary/internal/config"
	"github.com/apiarist/apiary/internal/coordinator"
	"github.com/apiarist/apiary/internal/network"
	"github.com/apiarist/apiary/internal/planner"
	"github.com/apiarist/apiary/internal/pool"
	"github.com/apiarist/apiary/internal/scheduler"
	"github.com/apiarist/apiary/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("apiary %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: apiary <command>\n\nCommands:\n  gateway    Start the Apiary gateway service\n  backup     Archive the data directory to a .tar.zst file\n  restore    Restore a data directory from a backup archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting apiary gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	msgBus, err := bus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer msgBus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := bus.NewClient(msgBus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// AI advisory service; optional, every consumer carries a fallback.
	var advisor advisory.Advisor
	if ac, err := advisory.NewClient(cfg.Advisory); err != nil {
		slog.Warn("advisory client unavailable, running on deterministic fallbacks", "error", err)
	} else {
		advisor = ac
		slog.Info("advisory client initialized", "model", cfg.Advisory.Model)
	}

	// Swarm core
	agents := pool.New()
	mailboxes := network.New(client)
	coord := coordinator.New(coordinator.Options{
		Pool:      agents,
		Network:   mailboxes,
		Optimizer: planner.NewOptimizer(advisor),
		Advisor:   advisor,
		Executor:  coordinator.NewBusExecutor(client),
		Store:     db,
		Bus:       client,
		Swarm:     cfg.Swarm,
	})
	go coord.Start(ctx)

	// Collaboration engine
	engine := collab.NewEngine(collab.Options{
		Advisor: advisor,
		Store:   db,
		Bus:     client,
		Collab:  cfg.Collab,
	})
	collabSub, err := client.Subscribe(bus.TopicCollabRequest, func(msg *natsgo.Msg) {
		var req collab.Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error("invalid collaboration request", "error", err)
			return
		}
		session, err := engine.Request(ctx, req)
		if err != nil {
			slog.Error("collaboration request rejected", "error", err)
			return
		}
		if msg.Reply != "" {
			_ = msg.Respond([]byte(session.ID))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe collaboration requests: %w", err)
	}
	defer collabSub.Unsubscribe()

	// Scheduler submits stored workflows into the coordinator.
	sched := scheduler.New(db, func(ctx context.Context, workflow []byte) error {
		var req coordinator.WorkflowRequest
		if err := json.Unmarshal(workflow, &req); err != nil {
			return fmt.Errorf("decode scheduled workflow: %w", err)
		}
		_, err := coord.Submit(req)
		return err
	}, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Workflow submissions over the bus
	sub, err := client.Subscribe(bus.TopicWorkflowSubmit, func(msg *natsgo.Msg) {
		var req coordinator.WorkflowRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error("invalid workflow submission", "error", err)
			return
		}
		id, err := coord.Submit(req)
		if err != nil {
			slog.Error("workflow submission rejected", "error", err)
			return
		}
		if msg.Reply != "" {
			_ = msg.Respond([]byte(id))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe workflow submissions: %w", err)
	}
	defer sub.Unsubscribe()
	slog.Info("workflow submissions open", "topic", bus.TopicWorkflowSubmit)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
