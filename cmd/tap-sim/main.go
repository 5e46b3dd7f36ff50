// WebSocket publisher for exercising the tap relay without reader hardware.
//
// Interactive mode reads card UIDs from stdin and publishes each as a tap;
// -test sends a single test tap and exits.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const testUID = "DEADBEEF"

type outbound struct {
	Type     string `json:"type"`
	Role     string `json:"role,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Lane     string `json:"lane,omitempty"`
	CardUID  string `json:"card_uid,omitempty"`
	ReaderTS string `json:"reader_ts,omitempty"`
}

type inbound struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Lane    string `json:"lane,omitempty"`
	Message string `json:"message,omitempty"`
}

// client serializes writes; the ping-answering goroutine and the main loop
// both write to the same connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(v outbound) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close() {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.conn.Close()
}

func main() {
	var (
		host   = flag.String("host", "localhost:3000", "Relay server host:port")
		secret = flag.String("secret", os.Getenv("NFC_TAP_SECRET"), "Shared broadcaster secret")
		lane   = flag.String("lane", envOrDefault("POS_LANE_ID", "default"), "POS lane identifier")
		secure = flag.Bool("secure", false, "Use WSS instead of WS")
		test   = flag.Bool("test", false, "Send a single test tap and exit")
	)
	flag.Parse()

	scheme := "ws"
	if *secure {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: *host, Path: "/api/nfc/ws"}

	if *test {
		c, err := connect(u, *secret, *lane)
		if err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		defer c.close()

		if err := sendTap(c, testUID, *lane); err != nil {
			log.Fatalf("Failed to send test tap: %v", err)
		}

		log.Printf("Test tap sent: %s", testUID)

		return
	}

	log.Printf("Simulation mode. Type UID hex (or 'quit'):")

	// Reconnect with exponential backoff: start at 1s, double, cap at 30s.
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	var c *client

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Print("> ")

	for scanner.Scan() {
		uid := strings.ToUpper(strings.TrimSpace(scanner.Text()))

		switch strings.ToLower(uid) {
		case "":
			fmt.Print("> ")
			continue
		case "q", "quit", "exit":
			if c != nil {
				c.close()
			}

			log.Printf("Shutting down.")

			return
		}

		for {
			if c == nil {
				conn, err := connect(u, *secret, *lane)
				if err != nil {
					wait := policy.NextBackOff()
					log.Printf("Connect failed: %v (retrying in %s)", err, wait)
					time.Sleep(wait)

					continue
				}

				policy.Reset()

				c = conn
			}

			if err := sendTap(c, uid, *lane); err != nil {
				log.Printf("Send failed: %v (reconnecting)", err)
				c.conn.Close()

				c = nil

				continue
			}

			log.Printf("Tap sent: %s (lane: %s)", uid, *lane)

			break
		}

		fmt.Print("> ")
	}
}

// connect dials the relay, authenticates as a broadcaster, and starts a
// goroutine answering server pings.
func connect(u url.URL, secret, lane string) (*client, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %s)", u.String(), err, resp.Status)
		}

		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c := &client{conn: conn}

	auth := outbound{Type: "auth", Role: "broadcaster", Secret: secret, Lane: lane}
	if err := c.write(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	var reply inbound
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth reply: %w", err)
	}

	switch reply.Type {
	case "auth_success":
		log.Printf("Authenticated (lane: %s)", reply.Lane)
	case "auth_failed":
		conn.Close()
		log.Fatalf("Authentication rejected: %s", reply.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected auth reply type %q", reply.Type)
	}

	go c.answerPings()

	return c, nil
}

// answerPings replies pong to server pings until the connection dies.
func (c *client) answerPings() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			if err := c.write(outbound{Type: "pong"}); err != nil {
				return
			}
		case "error":
			log.Printf("Server error: %s", msg.Message)
		}
	}
}

func sendTap(c *client, uid, lane string) error {
	return c.write(outbound{
		Type:     "tap",
		CardUID:  uid,
		Lane:     lane,
		ReaderTS: time.Now().UTC().Format(time.RFC3339),
	})
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}
