package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/consultation-service/internal/app/core"
	"github.com/magabrotheeeer/consultation-service/internal/config"
	healthhandler "github.com/magabrotheeeer/consultation-service/internal/http/handlers/health"
	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/lib/jwt"
	"github.com/magabrotheeeer/consultation-service/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	"github.com/magabrotheeeer/consultation-service/internal/migrations"
	"github.com/magabrotheeeer/consultation-service/internal/storage"
)

const serviceName = "consultation"

// App HTTP API и gRPC health сервиса консультаций.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	core       *core.Core
	conn       *amqp.Connection
	ch         *amqp.Channel
	logger     *slog.Logger
}

// New подключает зависимости, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetConsultationQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	c, err := core.New(ctx, cfg, db, rabbitmq.NewLifecyclePublisher(ch), m, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	reg.MustRegister(metrics.OnlineDoctors(c.Presence.CountOnline))

	router := chi.NewRouter()
	RegisterRoutes(router, logger, RouteDeps{
		Core:          c,
		Tokens:        jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		SendLimiter:   middlewarectx.NewRateLimiter(cfg.SendRateLimit, cfg.SendBurst, logger),
		WebhookSecret: cfg.WebhookSecret,
		Gatherer:      reg,
		Checks: map[string]healthhandler.Checker{
			"postgres": c.Storage.DB.PingContext,
			"redis":    func(ctx context.Context) error { return c.Cache.Client.Ping(ctx).Err() },
		},
	})

	lis, err := net.Listen("tcp", cfg.AddressGRPC)
	if err != nil {
		c.Close()
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		grpcServer: grpcServer,
		health:     healthServer,
		listener:   lis,
		core:       c,
		conn:       conn,
		ch:         ch,
		logger:     logger,
	}, nil
}

// Run обслуживает HTTP и gRPC до отмены ctx, затем корректно останавливается.
func (a *App) Run(ctx context.Context) error {
	// запросы, включая потоки SSE, отменяются вместе с приложением
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()
	go func() {
		a.logger.Info("gRPC health listening on", slog.String("address", a.listener.Addr().String()))
		a.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		errCh <- a.grpcServer.Serve(a.listener)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down HTTP server gracefully")
	a.health.Shutdown()
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}
	a.grpcServer.GracefulStop()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	a.core.Close()
	return runErr
}
