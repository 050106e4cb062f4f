package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"canvasService/backend/config"
	"canvasService/backend/internal/cache"
	"canvasService/backend/internal/events"
	"canvasService/backend/internal/httpapi"
	"canvasService/backend/internal/httpapi/handlers"
	"canvasService/backend/internal/ratelimit"
	"canvasService/backend/internal/room"
	"canvasService/backend/internal/store"
	"canvasService/backend/internal/ws"
)

func openRoomStore(cfg *config.Config) (store.RoomStore, func(), error) {
	switch cfg.Storage.Driver {
	case "mysql":
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return store.NewGormRoomStore(db), func() { sqlDB.Close() }, nil
	case "bolt":
		db, err := store.OpenBolt(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store.NewBoltRoomStore(db), func() { db.Close() }, nil
	case "memory", "":
		return store.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", store.ErrUnknownDriver, cfg.Storage.Driver)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: storage=%s ratelimit=%s redis=%v kafka=%v port=%d",
		cfg.Storage.Driver, cfg.RateLimit.Backend, cfg.Redis.Addrs, cfg.Kafka.Brokers, cfg.Running.Port)

	roomStore, closeStore, err := openRoomStore(cfg)
	if err != nil {
		log.Fatalf("open room store: %v", err)
	}
	defer closeStore()

	// 回收前归档，直接走 database/sql
	var archiver store.Archiver
	if cfg.Mysql.Archive && cfg.Mysql.DSN != "" {
		db, err := sql.Open("mysql", cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		archiver = store.NewSnapshotStore(db)
	}

	// Redis：单地址即单机，多地址即集群
	var (
		rdb      redis.UniversalClient
		presence cache.PresenceCache
		alarms   cache.AlarmStore
	)
	if len(cfg.Redis.Addrs) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		alarms = cache.NewRedisAlarms(rdb)
	}

	limitCfg := ratelimit.Config{
		Capacity:       cfg.RateLimit.Capacity,
		RefillAmount:   cfg.RateLimit.RefillAmount,
		RefillInterval: cfg.RateLimit.RefillInterval,
	}
	var admitter ratelimit.Admitter
	switch cfg.RateLimit.Backend {
	case "redis":
		if rdb == nil {
			log.Fatalf("ratelimit backend redis needs redis.addrs")
		}
		admitter = ratelimit.NewRedisLimiter(rdb, limitCfg)
	default:
		lim := ratelimit.NewLimiter(limitCfg)
		defer lim.Stop()
		admitter = lim
	}

	// === Kafka：本地队列 + worker 重试发送 ===
	var sink events.Sink = events.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
		dispatcher := events.NewKafkaDispatcher(producer, cfg.Kafka.Topic, events.NewSemaphoreControl(events.DefaultMaxInFlight),
			events.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			})
		// 在 producer.Close 之前执行
		defer dispatcher.Close()
		sink = dispatcher
	}

	rooms := room.NewRegistry(room.Options{
		Store:          roomStore,
		Archiver:       archiver,
		Alarms:         alarms,
		Events:         sink,
		IdleTimeout:    cfg.Room.IdleTimeout,
		PersistTimeout: cfg.Room.PersistTimeout,
	})
	defer rooms.Close()

	wsm := ws.NewManager(rooms, admitter, presence, ws.Options{
		SendQueue:   cfg.Room.SendQueue,
		PresenceTTL: cfg.Room.PresenceTTL,
	})
	router := httpapi.NewRouter(handlers.NewRoomHandler(rooms, roomStore, presence), wsm,
		httpapi.RouterOptions{EnableCORS: cfg.Running.EnableCORS})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("canvas server listening on %s (gin %s)", srv.Addr, gin.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if alarms != nil {
		g.Go(func() error {
			// 启动时先扫一遍上次进程遗留的到期房间
			if n, err := rooms.Sweep(ctx, time.Now()); err != nil {
				log.Printf("initial sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("initial sweep reclaimed %d rooms", n)
			}
			err := rooms.RunSweeper(ctx, cfg.Room.SweepInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 先关房间，websocket 连接被 hijack 后不受 Shutdown 管理
		rooms.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server stopped: %v", err)
	}
}
