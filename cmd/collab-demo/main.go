// Command collab-demo wires the full engine together: a broker-backed
// realtime client, presence tracking, HTTP collaborators, optional SQLite
// and Kafka audit sinks, then runs one conflict check against the backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	collab "github.com/c0deZ3R0/collab-kit"
	"github.com/c0deZ3R0/collab-kit/audit"
	"github.com/c0deZ3R0/collab-kit/collabhttp"
	"github.com/c0deZ3R0/collab-kit/config"
	"github.com/c0deZ3R0/collab-kit/conflict"
	"github.com/c0deZ3R0/collab-kit/event"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/presence"
	"github.com/c0deZ3R0/collab-kit/resolve"
	"github.com/c0deZ3R0/collab-kit/storage/sqlite"
	"github.com/c0deZ3R0/collab-kit/transport"
	"github.com/c0deZ3R0/collab-kit/transport/membroker"
	"github.com/c0deZ3R0/collab-kit/transport/redisbroker"
	"github.com/c0deZ3R0/collab-kit/transport/wsbroker"
)

type demoConfig struct {
	User struct {
		ID      string `mapstructure:"id"`
		Name    string `mapstructure:"name"`
		Session string `mapstructure:"session"`
	} `mapstructure:"User"`
	Page   string `mapstructure:"Page"`
	Engine string `mapstructure:"Engine"` // path to an engine config file
}

func initConfig() (*demoConfig, error) {
	cfg := &demoConfig{}
	v := viper.New()
	v.SetConfigName("collab-demo")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetDefault("User.id", "demo-user")
	v.SetDefault("User.name", "Demo User")
	v.SetDefault("User.session", "demo-session")
	v.SetDefault("Page", "home")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newBroker(cfg *config.Config) transport.Broker {
	switch {
	case cfg.Backend.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Backend.RedisAddr})
		return redisbroker.New(rdb)
	case cfg.Backend.WebsocketURL != "":
		return wsbroker.New(cfg.Backend.WebsocketURL)
	default:
		log.Println("no broker configured, using the in-memory broker")
		return membroker.New()
	}
}

func main() {
	demo, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	engineCfg := config.Default()
	if demo.Engine != "" {
		engineCfg, err = config.Load(demo.Engine)
		if err != nil {
			log.Fatalf("load engine config failed: %v", err)
		}
	}

	logger := logging.NewLogger(logging.GetConfigFromEnv())

	broker := newBroker(engineCfg)
	client := transport.NewClient(broker, transport.Config{
		MaxRetries:        engineCfg.Transport.MaxRetries,
		BaseDelay:         engineCfg.BaseDelay(),
		MaxDelay:          engineCfg.MaxDelay(),
		BackoffMultiplier: engineCfg.Transport.BackoffMultiplier,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Printf("initial connect failed, reconnecting in background: %v", err)
	}

	backend := collabhttp.NewClient(engineCfg.Backend.CollabURL,
		collabhttp.WithTimeout(engineCfg.RequestTimeout()),
		collabhttp.WithLogger(logger),
	)

	detectorOpts := []conflict.Option{
		conflict.WithSessionStore(backend),
		conflict.WithChangeLog(backend),
		conflict.WithConflictTimeout(engineCfg.ConflictTimeout()),
		conflict.WithMaxHistory(engineCfg.Detector.MaxConflictHistory),
		conflict.WithLogger(logger),
	}
	if !*engineCfg.Detector.EnableVersionChecking {
		detectorOpts = append(detectorOpts, conflict.WithoutVersionChecking())
	}
	if !*engineCfg.Detector.EnableChecksumValidation {
		detectorOpts = append(detectorOpts, conflict.WithoutChecksumValidation())
	}
	if !*engineCfg.Detector.EnableSessionTracking {
		detectorOpts = append(detectorOpts, conflict.WithoutSessionTracking())
	}
	detector := conflict.NewDetector(backend, detectorOpts...)

	resolver := resolve.NewResolver(
		resolve.WithPermissionChecker(backend),
		resolve.WithBaseVersionStore(backend),
		resolve.WithLogger(logger),
	)

	self := presence.Presence{
		UserID:   demo.User.ID,
		UserName: demo.User.Name,
		Action:   presence.ActionIdle,
	}
	tracker := presence.NewTracker(client, self, presence.Config{
		HeartbeatInterval: engineCfg.HeartbeatInterval(),
		CleanupInterval:   engineCfg.CleanupInterval(),
		PresenceTimeout:   engineCfg.PresenceTimeout(),
	}, logger)

	engineOpts := []collab.Option{
		collab.WithTransport(client, event.NewSerializer(event.NewValidator())),
		collab.WithPresence(tracker),
		collab.WithLogger(logger),
	}

	if path := engineCfg.Backend.AuditDBPath; path != "" {
		store, err := sqlite.New(sqlite.DefaultConfig(path))
		if err != nil {
			log.Fatalf("open audit store failed: %v", err)
		}
		defer store.Close()
		engineOpts = append(engineOpts, collab.WithAuditSink(store))
	}

	if brokers := engineCfg.Audit.Brokers; len(brokers) > 0 {
		producer, err := audit.NewSyncProducer(brokers)
		if err != nil {
			log.Fatalf("connect kafka failed: %v", err)
		}
		defer producer.Close()
		dispatcher := audit.NewDispatcher(producer, engineCfg.Audit.Topic, audit.Options{
			QueueSize: engineCfg.Audit.QueueSize,
			Workers:   engineCfg.Audit.Workers,
			Logger:    logger,
		})
		defer dispatcher.Close()
		engineOpts = append(engineOpts, collab.WithAuditPublisher(dispatcher))
	}

	engine := collab.NewEngine(collab.Identity{
		UserID:    demo.User.ID,
		UserName:  demo.User.Name,
		SessionID: demo.User.Session,
	}, detector, resolver, engineOpts...)
	defer engine.Close(context.Background())

	sub := tracker.Subscribe(func(n presence.Notification) {
		fmt.Printf("presence: %s %s\n", n.Presence.UserName, n.Kind)
	})
	defer sub.Unsubscribe()

	if err := tracker.JoinPage(ctx, demo.Page); err != nil {
		log.Printf("join page failed: %v", err)
	}

	report, err := engine.CheckContentEdit(ctx, demo.Page, "hero", "hero.title", "1.0",
		"Welcome to our homepage", nil)
	switch {
	case err != nil:
		log.Printf("conflict check failed: %v", err)
	case !report.Detection.HasConflict:
		fmt.Println("edit is clean, commit away")
	case report.Resolved():
		fmt.Printf("conflict auto-resolved via %s\n", report.Resolution.Strategy)
	default:
		fmt.Printf("conflict %s by %s needs manual resolution (severity %s)\n",
			report.Detection.ConflictType, report.Detection.ConflictedBy,
			report.Classification.Severity)
	}

	fmt.Println("watching presence, ctrl-c to exit")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.LeavePage(shutdownCtx, demo.Page); err != nil {
		log.Printf("leave page failed: %v", err)
	}
}
