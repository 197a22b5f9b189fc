// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package main wires gatekeeper's rate-limit decision engine and
// deferred-execution pipeline together into one runnable node: it loads
// configuration, opens the shared store, starts the worker pool manager
// and HTTP server, and manages graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/appregistry"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/config"
	"gatekeeper/internal/kv"
	"gatekeeper/internal/localcache"
	"gatekeeper/internal/logging"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/pool"
	"gatekeeper/internal/proxy"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/server"
	"gatekeeper/internal/status"
	"gatekeeper/internal/upstream"
	"gatekeeper/internal/worker"
)

func main() {
	cfg := config.FromEnv()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	metrics.Serve(cfg.MetricsAddr)

	store, err := kv.New(kv.Options{
		Addrs:      cfg.RedisAddrs,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: cfg.MaxRetries,
		RetryPause: cfg.RetryTimeout,
	})
	if err != nil {
		log.Fatal("failed to build store", zap.Error(err))
	}
	defer store.Close()

	apps := appregistry.New(store)
	engine := ratelimit.NewEngine(store)
	allocator := pool.NewAllocator(store)
	httpClient := upstream.NewClient()

	var auditSinks []audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaOutcomeTopic)
		if err != nil {
			log.Warn("failed to build kafka audit sink, continuing without it", zap.Error(err))
		} else {
			auditSinks = append(auditSinks, sink)
		}
	}
	if cfg.PostgresDSN != "" {
		sink, err := audit.NewPostgresSink(cfg.PostgresDSN)
		if err != nil {
			log.Warn("failed to build postgres audit sink, continuing without it", zap.Error(err))
		} else {
			auditSinks = append(auditSinks, sink)
		}
	}
	var auditMulti *audit.Multi
	if len(auditSinks) > 0 {
		auditMulti = audit.NewMulti(auditSinks, func(sinkName string, err error) {
			log.Warn("audit sink publish failed", zap.String("sink", sinkName), zap.Error(err))
			metrics.AuditPublishErrors.WithLabelValues(sinkName).Inc()
		})
	}

	var cache *localcache.Cache
	if cfg.LocalCacheEnabled {
		cache = localcache.New(cfg.LocalCacheCommitThreshold, cfg.LocalCacheEvictionAge)
		cache.Start()
		defer cache.Stop()
		log.Info("local admission cache enabled",
			zap.Int64("commitThreshold", cfg.LocalCacheCommitThreshold),
			zap.Duration("evictionAge", cfg.LocalCacheEvictionAge))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// workerFactory closes over manager, set just below once pool.New
	// returns. This is safe because the manager only invokes the factory
	// from spawnWorker, which never runs before Start is called further
	// down, well after manager is assigned.
	var manager *pool.Manager
	workerFactory := func(consumerID string) pool.Worker {
		return worker.New(manager.Stream(), engine, apps, store, httpClient, auditMulti, log)
	}

	manager, err = pool.New(ctx, allocator, store, workerFactory, pool.Options{
		MaxQueuedRequests: cfg.MaxQueuedRequests,
		MaxWorkers:        cfg.MaxWorkers,
		ScaleInterval:     cfg.ScaleInterval,
		MaxStreamLength:   cfg.MaxStreamLength,
	}, log)
	if err != nil {
		log.Fatal("failed to start worker pool manager", zap.Error(err))
	}

	proxyHandler := proxy.New(apps, engine, manager.Stream(), httpClient, cache, log)
	statusHandler := status.New(store, log)

	httpServer := server.New(":"+cfg.HTTPPort, proxyHandler, statusHandler, log)

	manager.Start(ctx)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	manager.Stop(shutdownCtx)
	if auditMulti != nil {
		if err := auditMulti.Close(); err != nil {
			log.Warn("failed to close audit sinks", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
}
