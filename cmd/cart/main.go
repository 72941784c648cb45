package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
	"github.com/FaustProMaxPX/Takeaway-Mall/internal/history"
	"github.com/FaustProMaxPX/Takeaway-Mall/internal/identity"
	"github.com/FaustProMaxPX/Takeaway-Mall/internal/menu"
	"github.com/FaustProMaxPX/Takeaway-Mall/pkg/config"
	"github.com/FaustProMaxPX/Takeaway-Mall/pkg/kit"
)

const startupTimeout = 5 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		kit.NewLogger("cart", "info").Fatal("load config failed", zap.Error(err))
	}

	log := kit.NewLogger(cfg.Service, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := kit.WithSignals(context.Background())
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &cart.Service{
		Log:           log,
		Metrics:       cart.NewMetrics(reg),
		AbandonWindow: cfg.Cart.AbandonWindow(),
		StoreTimeout:  cfg.Cart.StoreTimeout(),
	}

	switch cfg.Cart.Store {
	case "memory":
		log.Warn("using in-memory cart store; carts are lost on restart")
		svc.Lines, svc.Schedule = cart.NewMemStore(), cart.NewMemSchedule()
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pctx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		svc.Lines, svc.Schedule = cart.NewRedisStore(rdb), cart.NewRedisSchedule(rdb, cart.DefaultScheduleKey)
	}

	if cfg.Postgres.URL != "" {
		db, err := openDB(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer func() { _ = db.Close() }()

		svc.History = history.NewPostgresStore(db, log)
		svc.Combos = menu.NewPostgresComboSource(db)
	} else {
		log.Warn("DATABASE_URL not set; cart history is kept in memory")
		svc.History = history.NewMemStore()
	}

	// A menu service, when configured, is the authority on combos.
	switch {
	case cfg.MenuURL != "":
		svc.Combos = menu.NewComboClient(cfg.MenuURL)
	case svc.Combos == nil:
		log.Warn("no combo source configured; serving demo combos")
		svc.Combos = menu.NewDemoComboSource()
	}

	h := cart.NewHandler(&cart.Server{Service: svc, Log: log}, cart.HTTPDeps{
		Log:             log,
		Service:         cfg.Service,
		Registry:        reg,
		Verifier:        identity.NewVerifier(cfg.JWTSecret),
		MetricsEnabled:  true,
		MetricsToken:    cfg.MetricsToken,
		RateLimitPerMin: cfg.Cart.RateLimitPerMin,
	})

	sweeper := &cart.Sweeper{
		Service:  svc,
		Interval: cfg.Cart.SweepInterval(),
		Batch:    cfg.Cart.SweepBatch,
		Log:      log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return kit.RunHTTPServer(gctx, ":"+cfg.Port, h, log) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Fatal("cart service stopped", zap.Error(err))
	}
	log.Info("cart service stopped")
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
