/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// The taprelay service relays NFC card tap events from reader sidecars to
// browser clients over WebSocket and SSE.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stuco-pos/taprelay/pkg/config"
	"github.com/stuco-pos/taprelay/pkg/gateway"
	"github.com/stuco-pos/taprelay/pkg/logger"
	"github.com/stuco-pos/taprelay/pkg/relay"
	"github.com/stuco-pos/taprelay/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env.local", "Path to env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}

	logg.Info().Str("version", version.GetFullVersion()).Msg("Starting taprelay")

	broadcaster := relay.NewBroadcaster(logg.WithComponent("broadcaster"))
	defer broadcaster.Close()

	server := gateway.NewServer(gateway.Config{
		ListenAddr:     cfg.ListenAddr,
		TapSecret:      cfg.TapSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	}, broadcaster, logg.WithComponent("gateway"))

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	case sig := <-sigCh:
		logg.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}
