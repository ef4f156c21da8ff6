package apiserver

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldbell/options/backend/internal/engine"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadTimeout  = 90 * time.Second
	streamPingInterval = 30 * time.Second
	streamSendBuffer   = 64
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type streamEnvelope struct {
	Type string        `json:"type"`
	Data *engine.Event `json:"data,omitempty"`
	TS   int64         `json:"ts"`
}

// eventStream fans committed events out to websocket subscribers. A
// client that cannot keep up with its send buffer is dropped rather
// than allowed to stall the publisher.
type eventStream struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan streamEnvelope
	once sync.Once
}

func newEventStream(logger *slog.Logger) *eventStream {
	return &eventStream{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (es *eventStream) publish(event *engine.Event) {
	envelope := streamEnvelope{Type: "event", Data: event, TS: time.Now().Unix()}

	es.mu.Lock()
	defer es.mu.Unlock()
	for client := range es.clients {
		select {
		case client.send <- envelope:
		default:
			delete(es.clients, client)
			client.close()
			es.logger.Debug("dropping slow stream subscriber")
		}
	}
}

func (es *eventStream) register(client *streamClient) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.clients[client] = struct{}{}
}

func (es *eventStream) unregister(client *streamClient) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.clients[client]; ok {
		delete(es.clients, client)
		client.close()
	}
}

func (es *eventStream) closeAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for client := range es.clients {
		delete(es.clients, client)
		client.close()
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func (s *Service) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	upgrader := streamUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		origin := strings.TrimSpace(req.Header.Get("Origin"))
		return s.isOriginAllowed(origin)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	client := &streamClient{
		conn: conn,
		send: make(chan streamEnvelope, streamSendBuffer),
	}
	s.stream.register(client)
	defer s.stream.unregister(client)

	readErrCh := make(chan error, 1)
	go streamReadLoop(conn, readErrCh)

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("stream read loop ended", "err", err)
			}
			return
		case envelope, ok := <-client.send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReadLoop drains the connection so control frames keep flowing;
// subscribers never send application data.
func streamReadLoop(conn *websocket.Conn, readErrCh chan<- error) {
	conn.SetReadLimit(1024)
	if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			readErrCh <- err
			return
		}
	}
}
