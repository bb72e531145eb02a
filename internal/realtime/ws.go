package realtime

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"order-payment-service/internal/auth"
	"order-payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Server upgrades HTTP requests to websocket connections and registers them
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a websocket server. An empty origin list accepts any origin.
func NewServer(registry *Registry, allowedOrigins []string) *Server {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: util.GetLogger(),
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, principal auth.Principal) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &wsConn{
		id:        uuid.NewString(),
		principal: principal,
		ws:        ws,
		send:      make(chan Message, sendBuffer),
		done:      make(chan struct{}),
	}

	rooms := RoomsFor(principal)
	for _, room := range rooms {
		s.registry.Join(room, conn)
	}
	s.logger.Debug("Realtime client connected",
		zap.String("conn_id", conn.id),
		zap.String("principal", principal.Actor()),
		zap.Strings("rooms", rooms))

	go conn.writePump()
	conn.readPump()

	s.registry.LeaveAll(conn)
	conn.close()
	s.logger.Debug("Realtime client disconnected", zap.String("conn_id", conn.id))
	return nil
}

type wsConn struct {
	id        string
	principal auth.Principal
	ws        *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ID() string                { return c.id }
func (c *wsConn) Principal() auth.Principal { return c.principal }

func (c *wsConn) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump drains client frames so control messages are processed. Clients
// do not send commands; room membership is fixed at handshake.
func (c *wsConn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
