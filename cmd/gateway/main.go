package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luoliAsyns/Gateway/pkg/api"
	"github.com/luoliAsyns/Gateway/pkg/auth"
	"github.com/luoliAsyns/Gateway/pkg/bridge"
	"github.com/luoliAsyns/Gateway/pkg/config"
	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/dedup"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/mq"
	"github.com/luoliAsyns/Gateway/pkg/notify"
	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/luoliAsyns/Gateway/pkg/partner"
	"github.com/luoliAsyns/Gateway/pkg/store"
	"github.com/luoliAsyns/Gateway/pkg/upstream"
	"github.com/luoliAsyns/Gateway/pkg/webhook"

	_ "github.com/lib/pq" // Postgres Driver
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		"service", cfg.Service.Name, "instance", cfg.Service.ID)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	conn, ch, err := mq.Connect(cfg.Rabbit.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	queue := mq.NewQueue(ch, cfg.Rabbit.QueuePrefix, log)

	var guard dedup.Store
	switch cfg.Dedup.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Dedup.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		guard = dedup.NewPostgresStore(db)
	case "memory":
		guard = dedup.NewMemoryStore()
	default:
		guard = dedup.NewRedisStore(rdb)
	}

	asyns := store.NewClient(cfg.Asyns.BaseURL)
	orders := store.NewOrders(asyns)
	coupons := store.NewCoupons(asyns)
	consumes := store.NewConsumeInfos(asyns)
	users := store.NewUsers(asyns)

	notifier := notify.NewWebhook(cfg.Notify.Endpoint, cfg.Notify.Users, cfg.Service.Name, log)
	counters := metrics.NewCounters(rdb, log)

	accounts := partner.NewAccountCache(rdb)
	chago := partner.NewClient(cfg.Chago.BaseURL, accounts)
	branches := partner.NewDirectory(rdb)

	reconciler := coupon.NewReconciler(orders, coupons,
		map[order.TargetPartner]coupon.PartnerRefunder{
			order.TargetPartnerChago: chago,
		}, counters, log)

	authMgr := auth.NewManager(cfg.Auth.Secret, time.Duration(cfg.Auth.TTLSeconds)*time.Second)

	server := api.NewServer(api.Deps{
		Log:       log,
		Validator: webhook.NewValidator(cfg.Taobao.AppSecret, cfg.Goofish.AppSecret),
		Dedup:     guard,
		Fetchers: map[order.Platform]upstream.Fetcher{
			order.PlatformTaobao:  upstream.NewTaobao(cfg.Taobao),
			order.PlatformGoofish: upstream.NewGoofish(cfg.Goofish),
		},
		Resolve:    order.NewRedisSkuMap(rdb).Resolve,
		Publisher:  queue,
		Reconciler: reconciler,
		Subscriber: bridge.NewRedisSubscriber(rdb),
		Counters:   counters,
		Dumper:     counters,
		Notifier:   notifier,
		Auth:       authMgr,
		Sessions:   auth.NewRedisSessions(rdb),
		Users:      users,
		Coupons:    coupons,
		Consumes:   consumes,
		Partner:    chago,
		Accounts:   accounts,
		Branches:   branches,
	})

	limiter := api.NewGlobalRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	notifier.Notify(ctx, "gateway started on "+cfg.HTTP.Addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
