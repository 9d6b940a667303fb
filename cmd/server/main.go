package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_order/internal/catalog"
	"chat_order/internal/config"
	"chat_order/internal/dispatch"
	"chat_order/internal/flow"
	"chat_order/internal/geo"
	"chat_order/internal/intent"
	"chat_order/internal/llm"
	"chat_order/internal/logger"
	"chat_order/internal/metrics"
	"chat_order/internal/payment"
	"chat_order/internal/queue"
	"chat_order/internal/router"
	"chat_order/internal/session"
	"chat_order/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
)

// sessionBackend 三种实现都同时提供 Store 与 Counter。
type sessionBackend interface {
	session.Store
	session.Counter
}

type redisSessions struct {
	*session.RedisStore
	*session.RedisCounter
}

func main() {
	// .env 只在本地开发时存在
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	// 1. 数据库
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		lg.Fatal("db open failed", "driver", cfg.DBDriver, "error", err)
	}
	if err := store.Migrate(db); err != nil {
		lg.Fatal("db migrate failed", "error", err)
	}

	// 2. Redis：会话、计数、单客户锁、限流、outbox
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		lg.Fatal("redis ping failed", "addr", cfg.RedisAddr, "error", err)
	}
	cancelPing()

	var (
		sessions sessionBackend
		locker   session.Locker
	)
	switch cfg.SessionBackend {
	case "memory":
		mem := session.NewMemory(cfg.SessionTTL)
		sessions, locker = mem, mem
	case "db":
		sessions = store.NewSessions(db, cfg.SessionTTL)
		locker = session.NewRedisLocker(rdb, 10*time.Second, 3*time.Second, lg)
	default:
		sessions = redisSessions{session.NewRedisStore(rdb, cfg.SessionTTL, lg), session.NewRedisCounter(rdb, cfg.SessionTTL)}
		locker = session.NewRedisLocker(rdb, 10*time.Second, 3*time.Second, lg)
	}

	// 3. 订单事件：outbox 入 Redis Stream，Relay 转 Kafka
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.OrderEventTopic)
	defer producer.Close()
	outbox := queue.NewOutbox(rdb, cfg.OrderEventStream)
	relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer, lg)

	orders := store.NewOrders(db)
	payments := queue.NewPaymentConsumer(cfg.KafkaBrokers, cfg.PaymentEventTopic, cfg.PaymentGroupID,
		store.NewPaymentEvents(db), orders, outbox, lg)
	defer payments.Close()

	// 4. 领域组件
	items := catalog.NewCache(store.NewCatalog(db), cfg.CatalogCacheTTL)
	rules := store.NewRules(db)
	events := store.NewEvents(db)

	var classifier intent.Classifier
	if c := llm.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout, lg); c != nil {
		classifier = c
	} else {
		lg.Info("llm classifier disabled, no api key")
	}

	flowDeps := flow.Deps{
		Catalog:          items,
		Orders:           orders,
		Counter:          sessions,
		Geocoder:         geo.NewClient(cfg.GeocoderURL, cfg.GeocoderTimeout),
		Events:           outbox,
		Log:              lg,
		MaxAttempts:      cfg.MaxAttempts,
		TooFarRetryLimit: cfg.TooFarRetryLimit,
	}
	if cfg.PaymentAPIURL != "" {
		flowDeps.Payments = payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentKeyID, cfg.PaymentKeySecret, 10*time.Second)
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Sessions: sessions,
		Counter:  sessions,
		Locker:   locker,
		Tenants:  store.NewTenants(db),
		Catalog:  items,
		Router:   intent.NewRouter(rules, events, classifier, lg),
		Learner:  intent.NewLearner(rules, events, lg),
		Machine:  flow.New(flowDeps),
		Log:      lg,
	})

	metrics.Register(nil)

	// 5. 后台任务
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go relay.Run(ctx)
	go payments.Run(ctx)

	// 6. HTTP
	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Messages: dispatcher,
		Sessions: sessions,
		Rules:    rules,
		Orders:   orders,
		Catalog:  items,
		Redis:    rdb,
		Log:      lg,
	}, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		lg.Info("http server listening", "addr", cfg.HTTPAddr, "session_backend", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown failed", "error", err)
	}
}
