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

// Package config loads relay configuration from the environment, with
// optional .env file support for development deployments.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/stuco-pos/taprelay/pkg/logger"
)

const (
	defaultHost = ""
	defaultPort = "3000"
)

// Config holds everything the relay service needs at startup.
type Config struct {
	// ListenAddr is the host:port the HTTP/WebSocket server binds to.
	ListenAddr string

	// TapSecret authenticates broadcaster connections. When empty,
	// broadcaster auth is permissive; the gateway logs a loud warning on
	// every admission through that path.
	TapSecret string

	// AllowedOrigins is the CORS allow-list for browser clients. "*"
	// admits any origin.
	AllowedOrigins []string

	// Logging configures the structured logger.
	Logging *logger.Config
}

// Load reads configuration from the environment. Each envFile that exists
// is loaded first without overriding variables already set in the process
// environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}

		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	host := getEnvOrDefault("HOSTNAME", defaultHost)
	port := getEnvOrDefault("PORT", defaultPort)

	cfg := &Config{
		ListenAddr:     net.JoinHostPort(host, port),
		TapSecret:      os.Getenv("NFC_TAP_SECRET"),
		AllowedOrigins: parseOrigins(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		Logging:        logger.DefaultConfig(),
	}

	return cfg, nil
}

func parseOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}

	return origins
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}
