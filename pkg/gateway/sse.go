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

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stuco-pos/taprelay/pkg/models"
	"github.com/stuco-pos/taprelay/pkg/relay"
)

// sseBufferSize bounds the per-subscriber event queue. The broadcaster's
// fan-out must never block, so a lagging SSE client drops events instead
// of applying backpressure.
const sseBufferSize = 16

// handleStream serves the HTTP push alternative for clients that cannot
// hold a bidirectional socket. It only ever plays the subscriber role;
// hardware publishes are not accepted here.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	lane := relay.NormalizeLane(r.URL.Query().Get("lane"))

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("lane", lane).
		Msg("SSE client connected to tap stream")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan models.TapEvent, sseBufferSize)

	unsubscribe := s.broadcaster.Subscribe(func(event models.TapEvent) {
		if !relay.LaneAccepts(event.Lane, lane) {
			return
		}

		select {
		case events <- event:
		default:
			// Lagging subscriber; drop rather than block the fan-out.
		}
	})
	defer unsubscribe()

	if err := sendSSE(w, flusher, models.Connected(lane)); err != nil {
		return
	}

	keepalive := time.NewTicker(pingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info().
				Str("remote_addr", r.RemoteAddr).
				Str("lane", lane).
				Msg("SSE client disconnected")

			return

		case event := <-events:
			if err := sendSSE(w, flusher, event); err != nil {
				s.logger.Debug().Err(err).Msg("SSE write failed")
				return
			}

		case <-keepalive.C:
			if err := sendSSE(w, flusher, models.Keepalive()); err != nil {
				s.logger.Debug().Err(err).Msg("SSE keepalive failed")
				return
			}
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE payload: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}

	flusher.Flush()

	return nil
}
