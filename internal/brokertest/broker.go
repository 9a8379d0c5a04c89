package brokertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// envelope mirrors the broker wire protocol.
type envelope struct {
	Action         string     `json:"action"`
	RequestID      string     `json:"requestId,omitempty"`
	Path           string     `json:"path,omitempty"`
	Field          int        `json:"field,omitempty"`
	Value          string     `json:"value,omitempty"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	Server         *serverMsg `json:"server,omitempty"`
	Error          *errorMsg  `json:"error,omitempty"`
}

type serverMsg struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type errorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type valueKey struct {
	path  string
	field int
}

type subscription struct {
	conn  *clientConn
	path  string
	field int
}

type clientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *clientConn) write(env envelope) error {
	data, _ := json.Marshal(env)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Broker is an in-process signal broker.
type Broker struct {
	server *httptest.Server

	mu         sync.Mutex
	values     map[valueKey]string
	subs       map[string]*subscription // keyed by subscriptionId
	conns      map[*clientConn]struct{}
	rejectAll  bool
	subscribes int
	dials      int
}

// New starts a broker on a random local port.
func New() *Broker {
	b := &Broker{
		values: make(map[valueKey]string),
		subs:   make(map[string]*subscription),
		conns:  make(map[*clientConn]struct{}),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := &clientConn{ws: ws}

		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.dials++
		b.mu.Unlock()

		b.serve(conn)

		b.mu.Lock()
		delete(b.conns, conn)
		for id, sub := range b.subs {
			if sub.conn == conn {
				delete(b.subs, id)
			}
		}
		b.mu.Unlock()
		ws.Close()
	}))

	return b
}

// URL returns the ws:// address of the broker.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// Close shuts the broker down.
func (b *Broker) Close() {
	b.KillConnections()
	b.server.Close()
}

// SetValue stores a value and pushes it to matching subscribers.
func (b *Broker) SetValue(path string, field int, value string) {
	b.mu.Lock()
	b.values[valueKey{path, field}] = value
	targets := b.matchingSubs(path, field)
	b.mu.Unlock()

	for id, sub := range targets {
		sub.conn.write(envelope{
			Action:         "subscription",
			SubscriptionID: id,
			Path:           path,
			Field:          field,
			Value:          value,
		})
	}
}

// Push delivers an update to subscribers without storing it.
func (b *Broker) Push(path string, field int, value string) {
	b.mu.Lock()
	targets := b.matchingSubs(path, field)
	b.mu.Unlock()

	for id, sub := range targets {
		sub.conn.write(envelope{
			Action:         "subscription",
			SubscriptionID: id,
			Path:           path,
			Field:          field,
			Value:          value,
		})
	}
}

func (b *Broker) matchingSubs(path string, field int) map[string]*subscription {
	targets := make(map[string]*subscription)
	for id, sub := range b.subs {
		if sub.path == path && sub.field == field {
			targets[id] = sub
		}
	}
	return targets
}

// KillConnections abruptly closes every client connection, simulating a
// transport failure. Subscriptions die with their connections.
func (b *Broker) KillConnections() {
	b.mu.Lock()
	conns := make([]*clientConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

// RejectRequests makes the broker answer every request with an error. Used to
// exercise remote-rejection paths.
func (b *Broker) RejectRequests(reject bool) {
	b.mu.Lock()
	b.rejectAll = reject
	b.mu.Unlock()
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Broker) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SubscribeCalls returns the total number of subscribe requests ever handled.
func (b *Broker) SubscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

// Dials returns the number of connections ever accepted.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Broker) serve(conn *clientConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var req envelope
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		b.mu.Lock()
		reject := b.rejectAll
		b.mu.Unlock()

		if reject {
			conn.write(envelope{
				Action:    req.Action,
				RequestID: req.RequestID,
				Error:     &errorMsg{Code: "rejected", Message: "request rejected"},
			})
			continue
		}

		switch req.Action {
		case "get":
			b.mu.Lock()
			value, ok := b.values[valueKey{req.Path, req.Field}]
			b.mu.Unlock()
			if !ok {
				conn.write(envelope{
					Action:    "get",
					RequestID: req.RequestID,
					Error:     &errorMsg{Code: "unknown_path", Message: "no such signal: " + req.Path},
				})
				continue
			}
			conn.write(envelope{
				Action:    "get",
				RequestID: req.RequestID,
				Path:      req.Path,
				Field:     req.Field,
				Value:     value,
			})

		case "set":
			b.mu.Lock()
			b.values[valueKey{req.Path, req.Field}] = req.Value
			targets := b.matchingSubs(req.Path, req.Field)
			b.mu.Unlock()
			conn.write(envelope{Action: "set", RequestID: req.RequestID, Path: req.Path})
			for id, sub := range targets {
				sub.conn.write(envelope{
					Action:         "subscription",
					SubscriptionID: id,
					Path:           req.Path,
					Field:          req.Field,
					Value:          req.Value,
				})
			}

		case "update":
			// Fire-and-continue: store and fan out, no response.
			b.mu.Lock()
			b.values[valueKey{req.Path, req.Field}] = req.Value
			targets := b.matchingSubs(req.Path, req.Field)
			b.mu.Unlock()
			for id, sub := range targets {
				sub.conn.write(envelope{
					Action:         "subscription",
					SubscriptionID: id,
					Path:           req.Path,
					Field:          req.Field,
					Value:          req.Value,
				})
			}

		case "subscribe":
			b.mu.Lock()
			b.subs[req.SubscriptionID] = &subscription{conn: conn, path: req.Path, field: req.Field}
			b.subscribes++
			b.mu.Unlock()
			conn.write(envelope{
				Action:         "subscribe",
				RequestID:      req.RequestID,
				SubscriptionID: req.SubscriptionID,
			})

		case "unsubscribe":
			b.mu.Lock()
			delete(b.subs, req.SubscriptionID)
			b.mu.Unlock()
			conn.write(envelope{
				Action:         "unsubscribe",
				RequestID:      req.RequestID,
				SubscriptionID: req.SubscriptionID,
			})

		case "serverinfo":
			conn.write(envelope{
				Action:    "serverinfo",
				RequestID: req.RequestID,
				Server:    &serverMsg{Name: "brokertest", Version: "0.1.0"},
			})
		}
	}
}
