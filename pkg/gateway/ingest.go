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
	"net/http"
	"time"

	"github.com/stuco-pos/taprelay/pkg/models"
	"github.com/stuco-pos/taprelay/pkg/relay"
)

// tapIngestRequest is the sidecar's HTTP publish payload. The secret
// travels in the body, matching the original sidecar protocol.
type tapIngestRequest struct {
	CardUID  string `json:"card_uid"`
	Lane     string `json:"lane,omitempty"`
	ReaderTS string `json:"reader_ts,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

type tapIngestResponse struct {
	Success   bool   `json:"success"`
	Listeners int    `json:"listeners,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleTapIngest accepts one-shot tap publishes over plain HTTP from
// sidecars that do not hold a WebSocket open. Authentication and rate
// limiting mirror the WebSocket broadcaster path.
func (s *Server) handleTapIngest(w http.ResponseWriter, r *http.Request) {
	addr := sourceAddr(r.RemoteAddr)

	var req tapIngestRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, tapIngestResponse{Success: false, Error: "Invalid payload"})
		return
	}

	if s.limiter.Blocked(addr) {
		s.logger.Warn().Str("source", addr).Msg("Tap ingest rejected: address blocked")
		writeJSON(w, http.StatusUnauthorized, tapIngestResponse{Success: false, Error: "Unauthorized"})

		return
	}

	switch {
	case s.config.TapSecret == "":
		s.logger.Warn().
			Str("source", addr).
			Msg("NFC_TAP_SECRET not configured - accepting tap ingest WITHOUT authentication")
	case req.Secret != s.config.TapSecret:
		s.limiter.RecordFailure(addr)
		s.logger.Warn().Str("source", addr).Msg("Tap ingest authentication failed")
		writeJSON(w, http.StatusUnauthorized, tapIngestResponse{Success: false, Error: "Unauthorized"})

		return
	default:
		s.limiter.Clear(addr)
	}

	if req.CardUID == "" {
		writeJSON(w, http.StatusBadRequest, tapIngestResponse{Success: false, Error: "card_uid is required"})
		return
	}

	event := models.TapEvent{
		CardUID:   req.CardUID,
		Lane:      relay.NormalizeLane(req.Lane),
		ReaderTS:  req.ReaderTS,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.broadcaster.Broadcast(event) {
		s.logger.Info().
			Str("card_uid", event.CardUID).
			Str("lane", event.Lane).
			Msg("Tap ingested")
	} else {
		s.logger.Debug().
			Str("card_uid", event.CardUID).
			Msg("Tap ingest ignored (duplicate)")
	}

	writeJSON(w, http.StatusOK, tapIngestResponse{
		Success:   true,
		Listeners: s.broadcaster.ListenerCount(),
	})
}
