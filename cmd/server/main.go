// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mailflow server
//
// Entry point for the mail trigger and delivery service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the trigger engine, identity resolver and delivery worker
//  4. Serves project-update events, queue drains and direct sends over HTTP
//  5. Optionally drains the queue on a cron schedule
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agencyops/mailflow/internal/alert"
	"github.com/agencyops/mailflow/internal/api"
	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/config"
	"github.com/agencyops/mailflow/internal/dedup"
	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/notice"
	"github.com/agencyops/mailflow/internal/render"
	"github.com/agencyops/mailflow/internal/schedule"
	"github.com/agencyops/mailflow/internal/sender"
	"github.com/agencyops/mailflow/internal/store"
	"github.com/agencyops/mailflow/internal/trigger"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailflow server",
		"port", cfg.Port,
		"timezone", cfg.Timezone,
		"drain_schedule", cfg.DrainSchedule,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Sentry ---
	reporter, flushSentry, err := alert.Init(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		slog.Error("failed to initialise sentry", "error", err)
		os.Exit(1)
	}
	defer flushSentry()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise mail store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := notice.NewPublisher(rdb, cfg.ConfirmationsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clk := clock.Real()

	// --- Trigger Engine ---
	renderer := render.New(render.GermanLocale(cfg.Location), clk)
	engine := trigger.NewEngine(trigger.EngineConfig{
		Repo:       st,
		Composer:   render.NewComposer(renderer, st),
		Clock:      clk,
		Notifier:   publisher,
		Registerer: reg,
	})

	// --- Delivery Worker ---
	resolver := identity.NewResolver(st, identity.NewRedisCache(rdb, cfg.IdentityCacheTTL))
	transport := sender.NewSMTPTransport(sender.SMTPConfig{
		DialTimeout: cfg.DialTimeout,
		Tokens:      identity.NewTokenCache(nil),
		Clock:       clk,
	})
	worker := sender.NewWorker(sender.WorkerConfig{
		Queue:      st,
		Identities: resolver,
		Transport:  transport,
		Alerter:    reporter,
		Clock:      clk,
		Registerer: reg,
	})

	// --- Optional Drain Schedule ---
	var sched *schedule.Scheduler
	if cfg.DrainSchedule != "" {
		sched, err = schedule.New(cfg.DrainSchedule, worker, 10*time.Minute)
		if err != nil {
			slog.Error("invalid drain schedule", "error", err)
			os.Exit(1)
		}
		sched.Start()
	}

	// --- HTTP Server ---
	handler := api.NewHandler(api.HandlerConfig{
		Triggers:   engine,
		Delivery:   worker,
		Dedup:      dedup.NewFilter(rdb, dedup.DefaultTTL),
		Identities: resolver,
		Checks: map[string]api.Pinger{
			"postgres": st,
			"redis":    publisher,
		},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	server := api.NewServer(cfg.Port, handler.Routes())

	// --- Graceful Shutdown ---
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if sched != nil {
			sched.Stop(shutdownCtx)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("mailflow server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-stopped
	slog.Info("mailflow server stopped")
}
