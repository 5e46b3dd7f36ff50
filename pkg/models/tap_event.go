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

// Package models defines the wire types shared by the tap relay components.
package models

// TapEvent represents one physical card presentation as delivered to
// subscribed clients. Delivered events carry no "type" field; receivers
// distinguish them from control messages by the presence of card_uid.
type TapEvent struct {
	// CardUID is the opaque card identifier reported by the reader.
	CardUID string `json:"card_uid"`

	// Lane identifies the physical reader the tap came from. Routing
	// only; never part of the event's identity.
	Lane string `json:"lane,omitempty"`

	// ReaderTS is the hardware-reported timestamp, informational only.
	ReaderTS string `json:"reader_ts,omitempty"`

	// Timestamp is the server-assigned RFC 3339 time of receipt. It is
	// authoritative for deduplication and ordering.
	Timestamp string `json:"timestamp"`
}

// HealthResponse is the read-only payload of the health endpoint.
type HealthResponse struct {
	Service    string `json:"service"`
	Version    string `json:"version,omitempty"`
	Listeners  int    `json:"listeners"`
	RecentTaps int    `json:"recent_taps"`
	Timestamp  string `json:"timestamp"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
