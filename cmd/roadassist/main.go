package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-migrate/migrate/v4"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vishnandaman/road-assist/internal/auth"
	"github.com/vishnandaman/road-assist/internal/config"
	appmiddleware "github.com/vishnandaman/road-assist/internal/http/middleware"
	"github.com/vishnandaman/road-assist/internal/location"
	"github.com/vishnandaman/road-assist/internal/notify"
	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/geo"
	"github.com/vishnandaman/road-assist/internal/roadside/handler"
	"github.com/vishnandaman/road-assist/internal/roadside/matching"
	"github.com/vishnandaman/road-assist/internal/roadside/repository"
	"github.com/vishnandaman/road-assist/internal/roadside/service"
	"github.com/vishnandaman/road-assist/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := observability.SetupLogger(cfg.ServiceName, cfg.LoggerLevel)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, cfg.ServiceName)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	var ready atomic.Bool

	stores, mongoMatcher := buildStores(ctx, cfg, logger)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		runMigrations(cfg.PostgresDSN, logger)
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName)); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	matcher := buildMatcher(cfg, stores, mongoMatcher, redisClient, logger)
	reservations := buildReservations(redisClient)
	queue := buildQueue(db)
	sender := buildSender(natsConn, cfg.NotifySubject, logger)

	svc, err := service.New(service.Deps{
		Users:        stores.users,
		Profiles:     stores.profiles,
		Requests:     stores.requests,
		Reviews:      stores.reviews,
		Matcher:      matcher,
		Reservations: reservations,
		Notifier:     notify.NewEnqueuer(queue),
		Clock:        domain.SystemClock{},
		Logger:       logger.Named("service"),
		ReserveTTL:   cfg.ReserveTTL,
	})
	if err != nil {
		logger.Fatal("service init", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	limiter := appmiddleware.NewRateLimiter(redisClient,
		appmiddleware.Limit{PerSecond: float64(cfg.RateLimitRead), Burst: float64(cfg.RateLimitRead)},
		appmiddleware.Limit{PerSecond: float64(cfg.RateLimitWrite), Burst: float64(cfg.RateLimitWrite)})

	api := handler.NewHTTP(svc, tokens, handler.WithLimiter(limiter.Middleware))

	r := chi.NewRouter()
	r.Mount("/", api.Router())
	r.Mount("/observability", observability.MetricsRouter(ready.Load))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcher := notify.NewDispatcher(queue, sender, logger.Named("notify"), notify.DispatcherConfig{
		PollInterval: cfg.DispatchPollInterval,
		BatchSize:    cfg.DispatchBatchSize,
		RetryMax:     cfg.DispatchRetryMax,
	})
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notification dispatcher stopped", zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer()
	location.RegisterLocationServer(grpcServer, location.NewServer(svc, logger.Named("location")))
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	ready.Store(true)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
}

// storeSet groups the repository implementations behind their domain
// interfaces so memory and mongo wiring look the same downstream.
type storeSet struct {
	users    domain.UserRepository
	profiles domain.MechanicRepository
	requests domain.RequestRepository
	reviews  domain.ReviewRepository
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (storeSet, domain.Matcher) {
	if cfg.MongoURI == "" {
		store := repository.NewMemoryStore()
		return storeSet{users: store, profiles: store, requests: store, reviews: store}, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	store, err := repository.NewMongoStore(ctx, client.Database(cfg.MongoDB), cfg.MatchLimit)
	if err != nil {
		logger.Fatal("mongo store init", zap.Error(err))
	}
	logger.Info("mongo connected", zap.String("db", cfg.MongoDB))
	return storeSet{users: store, profiles: store, requests: store, reviews: store}, store
}

// buildMatcher prefers the mongo geoNear pipeline when mongo backs the
// stores, then redis geo sets, then the in-process index.
func buildMatcher(cfg config.Config, stores storeSet, mongoMatcher domain.Matcher, redisClient *redis.Client, logger *zap.Logger) domain.Matcher {
	if mongoMatcher != nil {
		return mongoMatcher
	}
	var mechanicIndex, requestIndex geo.Index
	if redisClient != nil {
		mechanicIndex = geo.NewRedisIndex(redisClient, "geo:mechanics")
		requestIndex = geo.NewRedisIndex(redisClient, "geo:requests")
	} else {
		mechanicIndex = geo.NewMemoryIndex()
		requestIndex = geo.NewMemoryIndex()
	}
	matcher, err := matching.NewProximityMatcher(mechanicIndex, requestIndex,
		stores.users, stores.profiles, stores.requests, cfg.MatchLimit)
	if err != nil {
		logger.Fatal("matcher init", zap.Error(err))
	}
	return matcher
}

func buildReservations(redisClient *redis.Client) matching.ReservationStore {
	if redisClient == nil {
		return matching.NewMemoryReservationStore()
	}
	return matching.NewRedisReservationStore(redisClient, "")
}

func buildQueue(db *sql.DB) notify.Queue {
	if db == nil {
		return notify.NewMemoryQueue()
	}
	return notify.NewPostgresQueue(db)
}

func buildSender(conn *nats.Conn, subject string, logger *zap.Logger) notify.Sender {
	if conn == nil {
		return notify.NewLogSender(logger.Named("notify"))
	}
	return notify.NewNATSSender(conn, subject)
}

func runMigrations(dsn string, logger *zap.Logger) {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		logger.Warn("migration init failed", zap.Error(err))
		return
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to apply")
			return
		}
		logger.Fatal("migration up", zap.Error(err))
	}
	logger.Info("migrations applied")
}
