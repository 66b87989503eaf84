package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canvas-sync/internal/protocol"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	maxMessage   = 8 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		// Same-origin only; automation sockets send no Origin.
		host := strings.TrimSpace(r.Host)
		return strings.Contains(origin, "://"+host)
	},
}

type client struct {
	id   string
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessage)

	c := &client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if id := strings.TrimSpace(r.URL.Query().Get("client")); id != "" {
		c.id = id
	}
	s.addClient(c)
	defer s.removeClient(c)

	log := s.log.With("client", c.id)
	log.Info("client connected", "remote", r.RemoteAddr)
	defer log.Info("client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.pumpSendToWS(ctx, c, conn)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.pumpWSToServer(ctx, c, conn)
	}()

	select {
	case <-ctx.Done():
	case <-c.done:
	case err := <-errCh:
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Debug("connection ended", "error", err)
		}
	}
	cancel()
	// Unblock the reader.
	_ = conn.SetReadDeadline(time.Now())
	wg.Wait()
}

func (s *Server) pumpSendToWS(ctx context.Context, c *client, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required"), time.Now().Add(time.Second))
			return nil
		case b := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		}
	}
}

func (s *Server) pumpWSToServer(ctx context.Context, c *client, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var m protocol.Message
		if err := json.Unmarshal(data, &m); err != nil {
			messagesTotal.WithLabelValues("", "invalid").Inc()
			s.log.Warn("malformed message", "client", c.id, "error", err)
			continue
		}
		// Held across apply and broadcast so pushes go out in apply order.
		s.orderMu.Lock()
		reply, pushes := s.Apply(c.id, m)
		if reply != nil {
			s.sendTo(c, *reply)
		}
		s.Broadcast(pushes...)
		s.orderMu.Unlock()
	}
}

// Broadcast sends push events to every client, the sender included: its own
// echo is what confirms its optimistic state. A client whose buffer is full
// is disconnected so it reconnects and resyncs.
func (s *Server) Broadcast(msgs ...protocol.Message) {
	if len(msgs) == 0 {
		return
	}
	encoded := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			s.log.Error("encode push", "type", string(m.Type), "error", err)
			continue
		}
		encoded = append(encoded, b)
		pushesTotal.WithLabelValues(string(m.Type)).Inc()
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		for _, b := range encoded {
			if !s.trySend(c, b) {
				break
			}
		}
	}
}

func (s *Server) sendTo(c *client, m protocol.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		s.log.Error("encode reply", "type", string(m.Type), "error", err)
		return
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.trySend(c, b)
}

// trySend never blocks. Callers hold clientsMu.
func (s *Server) trySend(c *client, b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		droppedClientsTotal.Inc()
		s.log.Warn("client too slow; disconnecting", "client", c.id)
		c.close()
		return false
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	connectedClients.Set(float64(n))
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()
	c.close()
	connectedClients.Set(float64(n))
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.close()
	}
}

// ClientCount reports connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
