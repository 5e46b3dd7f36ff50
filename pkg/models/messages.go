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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies which side of the relay a connection speaks for.
type Role string

const (
	// RoleBroadcaster is the hardware-facing publisher (the reader sidecar).
	RoleBroadcaster Role = "broadcaster"
	// RoleClient is a browser subscriber.
	RoleClient Role = "client"
)

// Message type tags on the wire.
const (
	TypeAuth        = "auth"
	TypeTap         = "tap"
	TypePong        = "pong"
	TypeAuthSuccess = "auth_success"
	TypeAuthFailed  = "auth_failed"
	TypePing        = "ping"
	TypeError       = "error"
	TypeConnected   = "connected"
	TypeKeepalive   = "keepalive"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingType      = errors.New("message missing type field")
	ErrUnknownType      = errors.New("unknown message type")
)

// InboundMessage is the closed set of messages a peer may send to the
// gateway. Decoding validates the type tag up front so an unrecognized
// type is a parse failure rather than a silently ignored default branch.
type InboundMessage interface {
	inbound()
}

// AuthMessage must be the first message on every connection.
type AuthMessage struct {
	Role   Role   `json:"role"`
	Secret string `json:"secret,omitempty"`
	Lane   string `json:"lane,omitempty"`
}

// TapMessage is a card presentation reported by an authenticated broadcaster.
type TapMessage struct {
	CardUID  string `json:"card_uid"`
	Lane     string `json:"lane,omitempty"`
	ReaderTS string `json:"reader_ts,omitempty"`
}

// PongMessage is a broadcaster's reply to a server-issued ping.
type PongMessage struct{}

func (AuthMessage) inbound() {}
func (TapMessage) inbound()  {}
func (PongMessage) inbound() {}

// rawInbound is the superset of all inbound fields, used for one-pass decode.
type rawInbound struct {
	Type     string `json:"type"`
	Role     Role   `json:"role"`
	Secret   string `json:"secret"`
	Lane     string `json:"lane"`
	CardUID  string `json:"card_uid"`
	ReaderTS string `json:"reader_ts"`
}

// DecodeInbound parses one inbound frame into its typed message.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch raw.Type {
	case TypeAuth:
		return AuthMessage{Role: raw.Role, Secret: raw.Secret, Lane: raw.Lane}, nil
	case TypeTap:
		return TapMessage{CardUID: raw.CardUID, Lane: raw.Lane, ReaderTS: raw.ReaderTS}, nil
	case TypePong:
		return PongMessage{}, nil
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
}

// ControlMessage is the envelope for outbound control frames. Tap events
// themselves are sent as bare TapEvent objects without a type tag.
type ControlMessage struct {
	Type    string `json:"type"`
	Role    Role   `json:"role,omitempty"`
	Lane    string `json:"lane,omitempty"`
	Message string `json:"message,omitempty"`
}

func AuthSuccess(role Role, lane string) ControlMessage {
	return ControlMessage{Type: TypeAuthSuccess, Role: role, Lane: lane}
}

func AuthFailed(message string) ControlMessage {
	return ControlMessage{Type: TypeAuthFailed, Message: message}
}

func Ping() ControlMessage {
	return ControlMessage{Type: TypePing}
}

func ErrorMessage(message string) ControlMessage {
	return ControlMessage{Type: TypeError, Message: message}
}

func Connected(lane string) ControlMessage {
	return ControlMessage{Type: TypeConnected, Lane: lane}
}

func Keepalive() ControlMessage {
	return ControlMessage{Type: TypeKeepalive}
}
