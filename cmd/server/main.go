package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/medibridge/teleconsult/internal/adapters/appointments"
	router "github.com/medibridge/teleconsult/internal/adapters/http"
	wssignal "github.com/medibridge/teleconsult/internal/adapters/signal"
	"github.com/medibridge/teleconsult/internal/config"
	"github.com/medibridge/teleconsult/internal/metrics"
	"github.com/medibridge/teleconsult/internal/relay"
	"github.com/medibridge/teleconsult/internal/token"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Revocations go to Redis when configured so every verifier node
	// sees them; otherwise they stay in process memory.
	var revoked token.RevocationList
	var sweep func(time.Time)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		revoked = token.NewRedisRevocationList(client)
	} else {
		mem := token.NewMemoryRevocationList()
		revoked = mem
		sweep = mem.Sweep
	}

	directory := appointments.NewClient(cfg.AppointmentsURL, os.Getenv("APPOINTMENTS_API_KEY"))
	tokens := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL, directory, revoked)

	promReg := prometheus.NewRegistry()
	m := metrics.New(cfg.MetricsNamespace, promReg)
	rooms := relay.NewRegistry(m)
	limiter := wssignal.NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinInterval)
	ctl := wssignal.NewController(rooms, tokens, limiter)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Tokens:   tokens,
		Revoked:  revoked,
		Signal:   ctl,
		Metrics:  m,
		Registry: promReg,
		ICE:      cfg.ICEServers,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("teleconsult server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if sweep == nil {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				sweep(now)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return
	}
	log.Info().Msg("server exited gracefully")
}
