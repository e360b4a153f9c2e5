package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/toolink/quota/guard"
	"github.com/toolink/quota/limiter"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd starts the guarded servers.
type ServeCmd struct {
	GRPCAddr string   `name:"grpc-addr" help:"gRPC listen address." default:":9090"`
	HTTPAddr string   `name:"http-addr" help:"HTTP listen address." default:":8080"`
	Exempt   []string `help:"Extra operations exempt from rate limiting (gRPC full method or 'METHOD /path')."`
	Watch    bool     `help:"Reload limits when the config file changes." default:"true" negatable:""`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := limiter.LoadConfig(cli.Config)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolver := limiter.NewResolver(cfg)
	if c.Watch {
		if err := limiter.WatchConfig(ctx, cli.Config, resolver); err != nil {
			return err
		}
	}

	limiterMetrics := limiter.NewMetrics(reg)
	g := guard.New(
		limiter.NewHierarchicalLimiter(store, resolver, limiter.WithMetrics(limiterMetrics)),
		limiter.NewUserLimiter(store, resolver, limiter.WithMetrics(limiterMetrics)),
		guard.WithTable(exemptTable(c.Exempt)),
		guard.WithMetrics(guard.NewMetrics(reg)),
	)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(g.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(g.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	httpServer := &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           newRouter(g, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		lis, err := net.Listen("tcp", c.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.GRPCAddr, err)
		}
		log.Info().Str("addr", c.GRPCAddr).Msg("grpc server listening")
		return grpcServer.Serve(lis)
	})

	group.Go(func() error {
		log.Info().Str("addr", c.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// openStore builds the bucket store named by the config.
func openStore(ctx context.Context, cfg *limiter.Config) (limiter.Store, func(), error) {
	if cfg.StorageType == limiter.StorageMemory {
		log.Info().Msg("using in-memory bucket store, limits are local to this instance")
		return limiter.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.StoreTimeout,
		WriteTimeout: cfg.StoreTimeout,
	})

	store := limiter.NewRedisStore(client, limiter.WithKeyPrefix(cfg.Redis.KeyPrefix))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Load(pingCtx); err != nil {
		// the failure policy covers outages after startup; an unreachable
		// store at startup is only logged
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable at startup")
	} else {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis bucket store")
	}

	return store, func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}, nil
}

func exemptTable(extra []string) *guard.Table {
	exempt := []string{
		"GET /healthz",
		"GET /metrics",
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	}
	return guard.NewTable(append(exempt, extra...)...)
}

func newRouter(g *guard.Guard, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message":"pong"}` + "\n"))
		})
	})
	return r
}
