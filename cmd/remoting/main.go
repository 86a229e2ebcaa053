package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"device-remoting/internal/adapters/cache"
	gormstore "device-remoting/internal/adapters/gorm"
	"device-remoting/internal/adapters/memory"
	"device-remoting/internal/adapters/mqtt"
	ncore "device-remoting/internal/adapters/nats"
	rcore "device-remoting/internal/adapters/redis"
	"device-remoting/internal/config"
	"device-remoting/internal/core/bus"
	"device-remoting/internal/core/command"
	"device-remoting/internal/core/devices"
	"device-remoting/internal/core/session"
	api "device-remoting/internal/delivery/http"
	"device-remoting/pkg/rand"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().
		Str("svc", "device-remoting").Logger()

	cfg := config.MustLoad()
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = "HS256:" + rand.Secret()
		log.Warn().Msg("TOKEN_SECRET not set, tokens will not survive a restart")
	}
	log.Info().Str("bus", cfg.BusKind).Str("cache", cfg.CacheKind).
		Bool("auto_register", cfg.AutoRegister).Msg("boot")

	var (
		nc *ncore.Client
		rc *rcore.Client
	)
	if cfg.BusKind == "nats" || cfg.CacheKind == "nats" {
		c, err := ncore.New(cfg.NATSURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer c.Close()
		nc = c
	}
	if cfg.BusKind == "redis" || cfg.CacheKind == "redis" {
		c, err := rcore.New(cfg.RedisAddr, log)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer c.Close()
		rc = c
	}

	// --- stores ---
	var stores devices.Stores
	if cfg.DatabaseDSN != "" {
		db, err := gormstore.New(cfg.DatabaseDSN, log)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		hist := gormstore.NewHistoryStore(db)
		stores = devices.Stores{
			Devices:  gormstore.NewDeviceStore(db),
			Onlines:  gormstore.NewOnlineStore(db),
			History:  hist,
			Events:   hist,
			Releases: gormstore.NewReleaseStore(db),
		}
	} else {
		log.Warn().Msg("DATABASE_DSN not set, device state is kept in memory")
		stores = memory.New().Stores()
	}

	switch cfg.CacheKind {
	case "redis":
		stores.Onlines = cache.NewOnlineStore(rc, stores.Onlines, cfg.OnlineCacheTTL, log)
	case "nats":
		kv, err := nc.EnsureBucket("online", cfg.OnlineCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats kv")
		}
		stores.Onlines = cache.NewOnlineStore(kv, stores.Onlines, cfg.OnlineCacheTTL, log)
	}

	var queue command.Queue = command.NewMemoryQueue()
	if rc != nil {
		queue = rc.Queue(cfg.SessionTimeout)
	}

	// --- sessions ---
	newBus := func() (bus.EventBus, error) {
		switch cfg.BusKind {
		case "nats":
			return nc.Bus(), nil
		case "redis":
			return rc.Bus(), nil
		case "mqtt":
			return mqtt.New(mqtt.Config{Broker: cfg.MQTTBroker, Username: cfg.MQTTUser, Password: cfg.MQTTPass}, log)
		default:
			return bus.NewMemory(log), nil
		}
	}
	mgr := session.NewManager(session.Config{
		Topic:       cfg.SessionTopic,
		ClearPeriod: cfg.ClearPeriod,
	}, newBus, log)
	if _, err := mgr.Bus(); err != nil {
		log.Fatal().Err(err).Msg("session bus")
	}

	svc := devices.NewService(devices.Config{
		TokenSecret:     cfg.TokenSecret,
		TokenExpire:     cfg.TokenExpire,
		SessionTimeout:  cfg.SessionTimeout,
		AutoRegister:    cfg.AutoRegister,
		SaltTime:        cfg.SaltTime,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
		ReplyTimeout:    cfg.PublishTimeout,
		ReplyTopic:      cfg.ReplyTopic,
	}, stores, mgr, queue, log)

	if cfg.OperatorToken == "" {
		log.Warn().Msg("OPERATOR_TOKEN not set, platform command routes are disabled")
	}
	handler := api.New(svc, mgr, api.Options{
		SessionTimeout: cfg.SessionTimeout,
		OperatorToken:  cfg.OperatorToken,
	}, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	// graceful-shutdown
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("listen", cfg.ListenAddr).Msg("HTTP up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http")
		}
	}()

	<-ctx.Done()
	mgr.CloseAll("server shutdown")
	_ = srv.Shutdown(context.Background())
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("session manager close")
	}
	log.Info().Msg("bye")
}
