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
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stuco-pos/taprelay/pkg/models"
	"github.com/stuco-pos/taprelay/pkg/relay"
)

const (
	// writeTimeout bounds every frame write so a peer that stops
	// draining its socket cannot hold writeMu indefinitely.
	writeTimeout = 10 * time.Second

	// clientEventBuffer is the per-client event queue depth. A client
	// that falls further behind loses events rather than stalling the
	// fan-out, same as the SSE path.
	clientEventBuffer = 16
)

// wsConn tracks one WebSocket peer through its lifecycle:
// connected (unauthenticated) -> authenticated broadcaster or client -> closed.
type wsConn struct {
	id   string
	conn *websocket.Conn
	log  zerolog.Logger

	// writeMu serializes writes; the ping ticker and the client event
	// writer write concurrently with the read loop's replies.
	writeMu sync.Mutex

	authenticated bool
	role          models.Role
	lane          string

	unsubscribe relay.UnsubscribeFunc

	// events queues taps for the client writer goroutine. The
	// subscription listener never writes to the socket itself.
	events chan models.TapEvent

	done         chan struct{}
	teardownOnce sync.Once
}

// handleWebSocket terminates /api/nfc/ws for both broadcaster and client
// roles. The first message must be auth; everything else before that
// closes the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	id := uuid.NewString()

	c := &wsConn{
		id:   id,
		conn: conn,
		lane: relay.NormalizeLane(r.URL.Query().Get("lane")),
		done: make(chan struct{}),
		log: s.logger.With().
			Str("conn_id", id).
			Str("remote_addr", r.RemoteAddr).
			Logger(),
	}

	c.log.Info().
		Str("user_agent", r.UserAgent()).
		Str("origin", r.Header.Get("Origin")).
		Str("lane", c.lane).
		Msg("WebSocket connection established")

	defer s.teardown(c)

	s.readLoop(c, sourceAddr(r.RemoteAddr))
}

// readLoop processes inbound frames until the transport closes or the
// gateway rejects the peer.
func (s *Server) readLoop(c *wsConn, addr string) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("WebSocket read error")
			} else {
				c.log.Debug().Err(err).Msg("WebSocket closed")
			}

			return
		}

		msg, err := models.DecodeInbound(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Rejected inbound message")

			c.send(models.ErrorMessage("Invalid message format"))

			// Garbage before authentication is terminal.
			if !c.authenticated {
				return
			}

			continue
		}

		if !s.dispatch(c, addr, msg) {
			return
		}
	}
}

// dispatch routes one decoded message according to the connection state.
// It reports whether the read loop should keep going.
func (s *Server) dispatch(c *wsConn, addr string, msg models.InboundMessage) bool {
	switch m := msg.(type) {
	case models.AuthMessage:
		if c.authenticated {
			c.send(models.ErrorMessage("Already authenticated"))
			return true
		}

		return s.authenticate(c, addr, m)

	case models.TapMessage:
		if !c.authenticated {
			c.send(models.ErrorMessage("Not authenticated"))
			return false
		}

		if c.role != models.RoleBroadcaster {
			c.send(models.ErrorMessage("Only broadcasters may publish taps"))
			return true
		}

		s.acceptTap(c, m)

		return true

	case models.PongMessage:
		if !c.authenticated {
			c.send(models.ErrorMessage("Not authenticated"))
			return false
		}

		c.log.Debug().Msg("Pong received")

		return true

	default:
		c.send(models.ErrorMessage("Unsupported message"))

		return c.authenticated
	}
}

// authenticate advances the connection out of the unauthenticated state,
// or closes it.
func (s *Server) authenticate(c *wsConn, addr string, msg models.AuthMessage) bool {
	switch msg.Role {
	case models.RoleBroadcaster:
		return s.authenticateBroadcaster(c, addr, msg)
	case models.RoleClient:
		s.authenticateClient(c)
		return true
	default:
		c.log.Warn().Str("role", string(msg.Role)).Msg("Auth with invalid role")
		c.send(models.AuthFailed("Invalid role"))

		return false
	}
}

func (s *Server) authenticateBroadcaster(c *wsConn, addr string, msg models.AuthMessage) bool {
	if s.limiter.Blocked(addr) {
		c.log.Warn().Str("source", addr).Msg("Broadcaster auth rejected: address blocked")
		c.send(models.AuthFailed("Too many failed attempts"))

		return false
	}

	switch {
	case s.config.TapSecret == "":
		c.log.Warn().
			Str("source", addr).
			Msg("NFC_TAP_SECRET not configured - admitting broadcaster WITHOUT authentication")
	case msg.Secret != s.config.TapSecret:
		blocked := s.limiter.RecordFailure(addr)
		c.log.Warn().
			Str("source", addr).
			Bool("now_blocked", blocked).
			Msg("Broadcaster authentication failed")
		c.send(models.AuthFailed("Invalid secret"))

		return false
	default:
		s.limiter.Clear(addr)
	}

	if msg.Lane != "" {
		c.lane = relay.NormalizeLane(msg.Lane)
	}

	c.authenticated = true
	c.role = models.RoleBroadcaster

	c.log.Info().Str("lane", c.lane).Msg("Broadcaster authenticated")
	c.send(models.AuthSuccess(models.RoleBroadcaster, c.lane))

	go s.pingLoop(c)

	return true
}

// authenticateClient admits a browser subscriber. Session validation is
// assumed to have happened before the transport reached this layer; client
// auth is never rate-limited.
func (s *Server) authenticateClient(c *wsConn) {
	c.authenticated = true
	c.role = models.RoleClient

	c.log.Info().Str("lane", c.lane).Msg("Client authenticated")
	c.send(models.AuthSuccess(models.RoleClient, c.lane))

	c.events = make(chan models.TapEvent, clientEventBuffer)
	go s.writeLoop(c)

	clientLane := c.lane

	// The listener runs on the publisher's goroutine and must never
	// block: queue for the writer, drop when the client is not draining.
	c.unsubscribe = s.broadcaster.Subscribe(func(event models.TapEvent) {
		if !relay.LaneAccepts(event.Lane, clientLane) {
			return
		}

		select {
		case c.events <- event:
		default:
			c.log.Debug().
				Str("card_uid", event.CardUID).
				Msg("Client not keeping up - event dropped")
		}
	})
}

// writeLoop drains the client's event queue onto the socket.
func (s *Server) writeLoop(c *wsConn) {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.events:
			if !c.send(event) {
				return
			}
		}
	}
}

// acceptTap converts a validated tap message into a TapEvent with the
// authoritative server timestamp and hands it to the broadcaster.
func (s *Server) acceptTap(c *wsConn, msg models.TapMessage) {
	if msg.CardUID == "" {
		c.log.Warn().Msg("Tap message missing card_uid - dropped")
		return
	}

	lane := relay.NormalizeLane(msg.Lane)
	if msg.Lane == "" {
		lane = c.lane
	}

	event := models.TapEvent{
		CardUID:   msg.CardUID,
		Lane:      lane,
		ReaderTS:  msg.ReaderTS,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.broadcaster.Broadcast(event) {
		c.log.Info().
			Str("card_uid", event.CardUID).
			Str("lane", event.Lane).
			Msg("Tap received and broadcast")
	} else {
		c.log.Debug().
			Str("card_uid", event.CardUID).
			Msg("Tap ignored (duplicate)")
	}
}

// pingLoop keeps broadcaster connections alive with a periodic ping. A
// missing pong does not force-close; the transport's own timeout governs.
func (s *Server) pingLoop(c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.send(models.Ping()) {
				return
			}
		}
	}
}

// teardown releases all per-connection state exactly once, no matter which
// path closed the connection.
func (s *Server) teardown(c *wsConn) {
	c.teardownOnce.Do(func() {
		close(c.done)

		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("WebSocket close error")
		}

		c.log.Info().Str("role", string(c.role)).Msg("Connection closed")
	})
}

// send writes one JSON frame, reporting whether the write succeeded. Safe
// for concurrent use.
func (c *wsConn) send(v interface{}) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if err := c.conn.WriteJSON(v); err != nil {
		c.log.Debug().Err(err).Msg("WebSocket write failed")
		return false
	}

	return true
}
