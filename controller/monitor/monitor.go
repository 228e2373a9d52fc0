// Package monitor publishes controller state to websocket clients.
//
// Every connected client receives a JSON [controller.State] when it
// connects and again whenever the state changes. Clients may send the text
// commands start, stop, toggle and pause to drive the script.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ardnew/duckbridge/controller"
	"github.com/ardnew/duckbridge/pkg"
)

// Defaults.
const (
	DefaultInterval  = 250 * time.Millisecond
	DefaultSendDepth = 8
)

// Controller is the part of a worker the monitor observes and drives.
// *controller.Worker satisfies it.
type Controller interface {
	State() controller.State
	Start()
	Stop()
	Toggle()
	PauseResume()
}

// Config configures a Hub.
type Config struct {
	Interval  time.Duration // state poll period (default DefaultInterval)
	SendDepth int           // messages buffered per client before it is dropped (default DefaultSendDepth)
	ReadOnly  bool          // ignore client commands
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SendDepth <= 0 {
		c.SendDepth = DefaultSendDepth
	}
	return c
}

// Hub tracks websocket clients and broadcasts state changes to them.
type Hub struct {
	ctrl   Controller
	config Config
	log    *slog.Logger

	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int32
}

// New creates a hub observing ctrl. Call Run to start broadcasting.
func New(ctrl Controller, config Config) *Hub {
	return &Hub{
		ctrl:       ctrl,
		config:     config.withDefaults(),
		log:        pkg.Logger(pkg.ComponentMonitor),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, h.config.SendDepth)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Run broadcasts state until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	clients := make(map[*client]struct{})
	defer func() {
		for c := range clients {
			close(c.send)
		}
		h.count.Store(0)
	}()

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	last := h.snapshot()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			clients[c] = struct{}{}
			h.count.Store(int32(len(clients)))
			c.send <- last
			h.log.Debug("client connected", "remote", c.conn.RemoteAddr(), "clients", len(clients))

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.count.Store(int32(len(clients)))
				h.log.Debug("client disconnected", "remote", c.conn.RemoteAddr(), "clients", len(clients))
			}

		case <-ticker.C:
			msg := h.snapshot()
			if string(msg) == string(last) {
				continue
			}
			last = msg
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; drop it rather than stall the others.
					delete(clients, c)
					close(c.send)
					h.count.Store(int32(len(clients)))
				}
			}
		}
	}
}

func (h *Hub) snapshot() []byte {
	msg, err := json.Marshal(h.ctrl.State())
	if err != nil {
		h.log.Error("state not encodable", "error", err)
		return []byte("{}")
	}
	return msg
}

func (h *Hub) command(name string) {
	if h.config.ReadOnly {
		return
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "start":
		h.ctrl.Start()
	case "stop":
		h.ctrl.Stop()
	case "toggle":
		h.ctrl.Toggle()
	case "pause", "resume":
		h.ctrl.PauseResume()
	default:
		h.log.Debug("unknown command", "command", name)
		return
	}
	h.log.Info("command", "command", name)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			c.hub.command(string(msg))
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
