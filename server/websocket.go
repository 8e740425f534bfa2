/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bungae.dev/bungae/internal/logging"
	"github.com/gorilla/websocket"
	"golang.org/x/net/idna"
)

const maxHMRReadSize = 64 * 1024

// hmrClient is one connected /hot client, tracking the entry points it
// registered so a future per-platform broadcast could target it (today
// the server broadcasts to every client on a given platform's BuildState).
type hmrClient struct {
	conn        *websocket.Conn
	mu          sync.Mutex
	platform    string
	entryPoints []string
}

func (c *hmrClient) send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// HMRHub tracks every connected /hot client and broadcasts HMR frames to
// the ones watching a given platform.
type HMRHub struct {
	mu              sync.RWMutex
	clients         map[*websocket.Conn]*hmrClient
	verifyConnections bool
}

// NewHMRHub constructs an empty hub. verifyConnections gates the
// same-origin check performed by Upgrade (§6.6 server.verifyConnections).
func NewHMRHub(verifyConnections bool) *HMRHub {
	return &HMRHub{
		clients:           make(map[*websocket.Conn]*hmrClient),
		verifyConnections: verifyConnections,
	}
}

func (h *HMRHub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if !h.verifyConnections {
				return true
			}
			return isLocalOrigin(r)
		},
	}
}

// isLocalOrigin allows same-host and loopback origins, matching the
// teacher's websocket origin check, with hostname comparison done through
// idna.Lookup so punycode/unicode hostnames compare safely.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	originHost, err := idna.Lookup.ToASCII(originURL.Hostname())
	if err != nil {
		originHost = originURL.Hostname()
	}

	requestHost := r.Host
	if idx := strings.IndexByte(requestHost, ':'); idx != -1 {
		requestHost = requestHost[:idx]
	}
	requestHostASCII, err := idna.Lookup.ToASCII(requestHost)
	if err != nil {
		requestHostASCII = requestHost
	}
	if originHost == requestHostASCII {
		return true
	}

	switch originHost {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	if strings.HasSuffix(originHost, ".localhost") {
		return true
	}
	if strings.HasPrefix(originHost, "127.") && len(strings.Split(originHost, ".")) == 4 {
		return true
	}
	return false
}

// clientMessage is the subset of §6.4 client->server message shapes the
// hub understands.
type clientMessage struct {
	Type        string   `json:"type"`
	EntryPoints []string `json:"entryPoints"`
}

// HandleUpgrade upgrades r to a WebSocket and runs the /hot session until
// the client disconnects. bundleEntry/platform come from the query string
// per §6.4.
func (h *HMRHub) HandleUpgrade(w http.ResponseWriter, r *http.Request, platform string) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.Error("HMR upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxHMRReadSize)

	client := &hmrClient{conn: conn, platform: platform}
	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// §7 ProtocolError: log and ignore, connection stays open.
			logging.Warning("HMR: ignoring malformed client message: %v", err)
			continue
		}
		switch msg.Type {
		case "register-entrypoints":
			client.mu.Lock()
			client.entryPoints = msg.EntryPoints
			client.mu.Unlock()
			reply, _ := json.Marshal(map[string]string{"type": "bundle-registered"})
			_ = client.send(reply)
		case "log", "log-opt-in":
			// accepted, no-op per §6.4.
		}
	}
}

// Broadcast sends message to every connected client watching platform.
func (h *HMRHub) Broadcast(platform string, message []byte) {
	h.mu.RLock()
	targets := make([]*hmrClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.platform == platform {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var dead []*websocket.Conn
	for _, c := range targets {
		if err := c.send(message); err != nil {
			dead = append(dead, c.conn)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			delete(h.clients, conn)
			_ = conn.Close()
		}
		h.mu.Unlock()
	}
}

// CloseAll gracefully closes every connected client, used on server
// shutdown.
func (h *HMRHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		c.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
		c.mu.Unlock()
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*hmrClient)
}

// ConnectionCount reports the number of currently connected clients.
func (h *HMRHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
