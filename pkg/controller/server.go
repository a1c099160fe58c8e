package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// portSendBuffer bounds per-port outbound queues. A slow panel drops its
// connection rather than stalling the executor.
const portSendBuffer = 128

// port is one side-panel WebSocket connection bound to a tab. Ports are
// weak from the controller's perspective: disconnection never cancels an
// executor.
type port struct {
	tabID  int
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newPort(tabID int, conn *websocket.Conn) *port {
	p := &port{
		tabID:  tabID,
		conn:   conn,
		sendCh: make(chan []byte, portSendBuffer),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// send enqueues a frame; returns false when the port is gone.
func (p *port) send(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.sendCh <- data:
		return true
	case <-p.done:
		return false
	}
}

func (p *port) writeLoop() {
	for {
		select {
		case data := <-p.sendCh:
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *port) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The side panel connects from an extension origin; the server binds to
	// loopback only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the WebSocket endpoint accepting port connections named
// side-panel-connection-<tabId>.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.servePort)
	return mux
}

// ListenAndServe runs the port server until the process exits.
func (c *Controller) ListenAndServe(addr string) error {
	c.log.Info("port server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler())
}

func (c *Controller) servePort(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	tabID, err := parsePortName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := newPort(tabID, conn)
	c.registerPort(p)
	c.log.Info("port connected", zap.Int("tab", tabID))

	c.readLoop(p)

	c.unregisterPort(p)
	c.log.Info("port disconnected", zap.Int("tab", tabID))
}

// parsePortName extracts the tab id from side-panel-connection-<tabId>.
func parsePortName(name string) (int, error) {
	if !strings.HasPrefix(name, portNamePrefix) {
		return 0, ErrNoTabID
	}
	tabID, err := strconv.Atoi(strings.TrimPrefix(name, portNamePrefix))
	if err != nil || tabID <= 0 {
		return 0, ErrNoTabID
	}
	return tabID, nil
}

// registerPort installs a port, replacing any previous one for the tab.
func (c *Controller) registerPort(p *port) {
	c.mu.Lock()
	if old, ok := c.ports[p.tabID]; ok {
		delete(c.portToTab, old)
		old.close()
	}
	c.ports[p.tabID] = p
	c.portToTab[p] = p.tabID
	c.mu.Unlock()
}

// unregisterPort removes a port. The tab's executor keeps running.
func (c *Controller) unregisterPort(p *port) {
	c.mu.Lock()
	if c.ports[p.tabID] == p {
		delete(c.ports, p.tabID)
	}
	delete(c.portToTab, p)
	c.mu.Unlock()
	p.close()
}

func (c *Controller) readLoop(p *port) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendReply(p, &reply{Type: replyError, Error: "malformed message"})
			continue
		}
		if resp := c.handleMessage(p, msg); resp != nil {
			c.sendReply(p, resp)
		}
	}
}

func (c *Controller) sendReply(p *port, r *reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	p.send(data)
}
