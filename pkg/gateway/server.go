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

// Package gateway terminates broadcaster and client connections, performs
// role-specific authentication, and wires them to the tap event relay.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stuco-pos/taprelay/pkg/logger"
	"github.com/stuco-pos/taprelay/pkg/models"
	"github.com/stuco-pos/taprelay/pkg/relay"
	"github.com/stuco-pos/taprelay/pkg/version"
)

const (
	serviceName = "nfc-tap-relay"

	defaultReadHeaderTimeout = 5 * time.Second
	defaultReadTimeout       = 10 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	// pingInterval is how often broadcaster connections are pinged and
	// SSE clients receive a keepalive frame.
	pingInterval = 30 * time.Second
)

// Config carries the gateway's runtime settings.
type Config struct {
	// ListenAddr is the host:port to bind.
	ListenAddr string

	// TapSecret authenticates broadcaster publishes. Empty means
	// permissive admission with a loud warning on every use.
	TapSecret string

	// AllowedOrigins is the CORS and WebSocket origin allow-list.
	AllowedOrigins []string
}

// Server is the connection gateway. It owns the HTTP listener, the
// WebSocket and SSE endpoints, and the broadcaster-auth rate limiter.
type Server struct {
	config      Config
	router      *mux.Router
	httpServer  *http.Server
	broadcaster *relay.Broadcaster
	limiter     *authLimiter
	logger      logger.Logger
}

// NewServer wires the gateway around an injected broadcaster instance.
func NewServer(config Config, broadcaster *relay.Broadcaster, log logger.Logger) *Server {
	s := &Server{
		config:      config,
		router:      mux.NewRouter(),
		broadcaster: broadcaster,
		limiter:     newAuthLimiter(),
		logger:      log,
	}

	s.setupRoutes()

	// WriteTimeout stays unset on purpose: the WebSocket and SSE
	// endpoints hold their response streams open indefinitely.
	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.corsMiddleware(s.loggingMiddleware(s.router)),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/nfc/ws", s.handleWebSocket)
	s.router.HandleFunc("/api/nfc/stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/api/nfc/tap", s.handleTapIngest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/nfc/tap", s.handleHealth).Methods(http.MethodGet)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Bool("secret_configured", s.config.TapSecret != "").
		Msg("Tap relay gateway listening")

	if s.config.TapSecret == "" {
		s.logger.Warn().
			Msg("NFC_TAP_SECRET not configured - broadcaster authentication is DISABLED")
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Service:    serviceName,
		Version:    version.GetVersion(),
		Listeners:  s.broadcaster.ListenerCount(),
		RecentTaps: s.broadcaster.RecentTapCount(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	})
}

// sourceAddr extracts the remote host without its ephemeral port so rate
// limiting keys on the peer address.
func sourceAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}

	return host
}
