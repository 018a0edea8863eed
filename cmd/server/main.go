package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/adapters/events"
	"github.com/dkeye/CodeRoom/internal/adapters/executor"
	router "github.com/dkeye/CodeRoom/internal/adapters/http"
	"github.com/dkeye/CodeRoom/internal/adapters/redislog"
	"github.com/dkeye/CodeRoom/internal/adapters/store"
	"github.com/dkeye/CodeRoom/internal/adapters/ws"
	"github.com/dkeye/CodeRoom/internal/broker"
	"github.com/dkeye/CodeRoom/internal/config"
	"github.com/dkeye/CodeRoom/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CONFIG_ENV") == "dev" || os.Getenv("CONFIG_ENV") == "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Sessions degrade to empty catch-up while redis is away.
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}
	deltaLog := redislog.New(rdb)

	var publisher core.EventPublisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error().Err(err).Msg("kafka publisher disabled")
		} else {
			defer kp.Close()
			publisher = kp
		}
	}

	var programs core.ProgramStore = store.NopStore{}
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Error().Err(err).Msg("mysql disabled")
		} else if ps, err := store.NewProgramStore(db); err != nil {
			log.Error().Err(err).Msg("program store disabled")
		} else {
			programs = ps
		}
	}

	exec := executor.New(cfg.Compiler.URL, cfg.Compiler.Timeout)

	b := broker.New(deltaLog, exec, publisher, programs)
	go b.Run(ctx)

	ctl := &ws.Controller{
		Broker:            b,
		Deltas:            deltaLog,
		Limiter:           ws.NewCompileLimiter(5, 30*time.Second),
		SendBuffer:        cfg.SendBuffer,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ClientTimeout:     cfg.ClientTimeout,
	}

	r := router.SetupRouter(ctx, cfg, b, ctl, programs)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("CodeRoom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
