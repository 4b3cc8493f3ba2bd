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

// Mailflow one-shot drain
//
// Standalone CLI that processes a single batch of due queue entries and
// prints the result as JSON on stdout. Intended for cron or systemd timers
// when the server runs without an in-process schedule.
//
// Usage:
//
//	go run ./cmd/drain/ [--timeout 10m] [--batch 50] [--strict]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agencyops/mailflow/internal/alert"
	"github.com/agencyops/mailflow/internal/config"
	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/sender"
	"github.com/agencyops/mailflow/internal/store"
)

func main() {
	// --- CLI Flags ---
	timeoutFlag := flag.Duration("timeout", 10*time.Minute, "Upper bound for the whole drain")
	batchFlag := flag.Int("batch", sender.BatchSize, "Most entries to process")
	strictFlag := flag.Bool("strict", false, "Exit with status 2 when any entry failed")
	flag.Parse()

	if *batchFlag <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --batch must be positive\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout carries only the result.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

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

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise mail store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis (resolution cache only) ---
	var cache identity.Cache
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		slog.Warn("invalid REDIS_URL, resolving identities without cache", "error", err)
	} else {
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		cache = identity.NewRedisCache(rdb, cfg.IdentityCacheTTL)
	}

	worker := sender.NewWorker(sender.WorkerConfig{
		Queue:      st,
		Identities: identity.NewResolver(st, cache),
		Transport: sender.NewSMTPTransport(sender.SMTPConfig{
			DialTimeout: cfg.DialTimeout,
			Tokens:      identity.NewTokenCache(nil),
		}),
		Alerter:   reporter,
		BatchSize: *batchFlag,
	})

	// --- Run Drain ---
	result, err := worker.Drain(ctx)
	if err != nil {
		slog.Error("drain failed", "error", err)
		os.Exit(1)
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error("write result failed", "error", err)
		os.Exit(1)
	}

	if *strictFlag && result.Failed > 0 {
		flushSentry()
		os.Exit(2)
	}
}
