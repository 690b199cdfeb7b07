package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/pairing/internal/abuse"
	"github.com/whisper/pairing/internal/admin"
	"github.com/whisper/pairing/internal/ban"
	"github.com/whisper/pairing/internal/config"
	"github.com/whisper/pairing/internal/lobby"
	"github.com/whisper/pairing/internal/messaging"
	"github.com/whisper/pairing/internal/metrics"
	"github.com/whisper/pairing/internal/moderation"
	"github.com/whisper/pairing/internal/ratelimit"
	"github.com/whisper/pairing/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "ws-1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Ban store and connect limiter ---
	var (
		bans    ban.Store
		limiter ratelimit.Limiter
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		pingCancel()
		bans = ban.NewRedisStore(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb)
	} else {
		mem := ban.NewMemoryStore(time.Now)
		mem.StartSweeper(ctx, cfg.BanSweepInterval)
		bans = mem

		ml := ratelimit.NewMemoryLimiter()
		ml.StartSweeper(ctx, time.Minute, 10*time.Minute)
		limiter = ml
	}

	// --- Moderation output ---
	observers := lobby.Observers{lobby.LogObserver{}}
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "whisper-" + serverName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		observers = append(observers, messaging.NewModerationPublisher(natsClient))
	}

	policy := abuse.Policy{
		SpamPenalty:      cfg.Policy.SpamPenalty,
		ProfanityPenalty: cfg.Policy.ProfanityPenalty,
		ReportPenalty:    cfg.Policy.ReportPenalty,
		CleanDecay:       cfg.Policy.CleanDecay,
		WarnAt:           cfg.Policy.WarnAt,
		KickAt:           cfg.Policy.KickAt,
		BanAt:            cfg.Policy.BanAt,
	}
	filter := moderation.NewFilter().WithTerms(cfg.ExtraDenyTerms)

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.TrustProxy = cfg.TrustProxy
	serverConfig.HeartbeatInterval = cfg.HeartbeatInterval
	serverConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	serverConfig.ConnectRule = ratelimit.RuleConnect.WithLimit(cfg.ConnectLimit)

	log.Printf("Whisper pairing server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  redis_addr:      %s", orNone(cfg.RedisAddr))
	log.Printf("  nats_url:        %s", orNone(cfg.NATSURL))
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  admin_api:       %v", cfg.AdminToken != "")
	log.Printf("  deny_terms:      %d", filter.Len())

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	server.SetLimiter(limiter)

	lobbyConfig := lobby.DefaultConfig()
	lobbyConfig.SpamInterval = cfg.SpamInterval
	lobbyConfig.KickGrace = cfg.KickGrace

	hub := lobby.NewHub(lobbyConfig, lobby.Deps{
		Transport: hubTransport{server: server},
		Bans:      bans,
		Abuse:     abuse.NewEngine(policy),
		Filter:    filter,
		Observer:  observers,
	})
	go hub.Run(ctx)

	registerHandlers(dispatcher, hub)
	server.SetOnConnect(func(conn *ws.Connection) {
		storeCtx, storeCancel := context.WithTimeout(ctx, 3*time.Second)
		defer storeCancel()
		hub.Connect(storeCtx, conn.ID, conn.Addr)
	})
	server.SetOnDisconnect(hub.Disconnect)

	adminServer := admin.New(hub, admin.Config{Token: cfg.AdminToken, Limiter: limiter})
	server.Handle("/admin/", adminServer.Handler())
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		cancel()
		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none, in-process)"
	}
	return s
}
