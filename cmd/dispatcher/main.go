package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"support-dispatch-backend/internal/api"
	"support-dispatch-backend/internal/api/router"
	"support-dispatch-backend/internal/archive"
	"support-dispatch-backend/internal/database"
	"support-dispatch-backend/internal/env"
	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/queue"
	"support-dispatch-backend/internal/service/dispatch"
	"support-dispatch-backend/internal/statestore"
	"support-dispatch-backend/internal/websocket"
	"support-dispatch-backend/utils"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	if missing := env.Missing(); len(missing) > 0 {
		log.Fatalf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := dispatch.DefaultConfig()
	if path := env.Get(env.DispatchConfigFile); path != "" {
		loaded, err := dispatch.LoadConfigFile(path)
		if err != nil {
			log.Fatalf("load dispatch config: %v", err)
		}
		cfg = loaded
	}

	store, err := statestore.NewRedisStore(statestore.RedisConfig{
		Addr:     env.Get(env.RedisURL),
		Password: env.Get(env.RedisPass),
		DB:       env.IntOrDefault(env.RedisDB, 0),
	})
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer store.Close()

	archiver := archive.Multi{archive.NewStoreArchive(store, cfg.ArchiveTTL)}
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	if db != nil {
		table := env.Get(env.ArchiveTable)
		archiver = append(archiver, archive.NewDynamoArchive(db, table, cfg.ArchiveTTL))
		log.Printf("[ARCHIVE] mirroring ended sessions to DynamoDB")
	}

	publisher := events.NewRedisPublisher(store.Client(), 1024)
	defer publisher.Close()

	bus := events.NewBus()
	bus.Subscribe(events.SLAViolation, func(evt events.Event) {
		log.Printf("[SLA] session %s breached its %s deadline", evt.Payload.SessionID, evt.Payload.Priority)
	})
	bus.Subscribe(events.SessionEscalated, func(evt events.Event) {
		log.Printf("[DISPATCH] session %s escalated: %s", evt.Payload.SessionID, evt.Payload.Reason)
	})

	allowedOrigins := utils.SplitList(env.Get(env.AllowedOrigins))
	hub := websocket.NewHub()
	stream := websocket.NewHandler(hub, allowedOrigins)

	writer := queue.NewNamedQueueManager("persist", env.IntOrDefault(env.WorkerQueueSize, 64), 1)
	defer writer.Shutdown()

	dispatcher, err := dispatch.New(dispatch.Options{
		Config:     cfg,
		Store:      store,
		Archiver:   archiver,
		Emitter:    events.Multi{publisher, bus, stream},
		Writer:     writer,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Fatalf("dispatcher init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := dispatcher.Restore(ctx)
	if err != nil {
		log.Fatalf("restore failed: %v", err)
	}
	log.Printf("[DISPATCH] restored %d agents, %d sessions (%d queued, %d skipped, %d pruned)",
		report.Agents, report.Sessions, report.Queued, report.Skipped, report.Pruned)

	queueManager := queue.NewRequestQueueManager(
		env.IntOrDefault(env.WorkerQueueSize, 64),
		env.IntOrDefault(env.WorkerCount, 10),
	)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		env.GetOrDefault(env.ListenAddr, ":8080"),
		queueManager,
		dispatcher,
		stream,
		router.UtilsRoutes("/api/v1"),
		router.SupportAdminRoutes("/api/v1/admin"),
		router.EventStreamRoutes("/api/v1/admin"),
	)
	server.SetAllowedOrigins(allowedOrigins)
	server.SetArchive(archiver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[DISPATCH] stopped with error: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		log.Printf("[PERSIST] final flush: %v", err)
	}
	log.Printf("[DISPATCH] shutdown complete")
}
