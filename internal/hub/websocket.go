package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// frame mirrors the dev-server HMR channel: custom events travel as
// {"type":"custom","event":...,"data":...}.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// WebSocket accepts browser connections and feeds their custom events to a Mux.
type WebSocket struct {
	mux      *Mux
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWebSocket(mux *Mux, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		mux: mux,
		log: logger,
		upgrader: websocket.Upgrader{
			// dev server: sketches are served from arbitrary local origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn}
	defer c.close()

	log := ws.log.With("client", c.id)
	log.Debug("client connected", "remote", r.RemoteAddr)
	if err := c.write(outFrame{Type: "connected"}); err != nil {
		log.Warn("send connected frame", "error", err)
		return
	}

	for {
		var in frame
		if err := conn.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				log.Warn("dropping malformed frame", "error", err)
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("read failed", "error", err)
			}
			log.Debug("client disconnected")
			return
		}
		if in.Type != "custom" || in.Event == "" {
			continue
		}
		ws.mux.Dispatch(in.Event, in.Data, c)
	}
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(event string, data any) error {
	return c.write(outFrame{Type: "custom", Event: event, Data: data})
}

func (c *wsClient) write(f outFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *wsClient) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}
