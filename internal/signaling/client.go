package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/recording"
)

const (
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the websocket message envelope. ReqID, when set on a client
// request, is echoed back verbatim on its response so the caller can
// correlate replies arriving out of order.
type WSMessage struct {
	Event string          `json:"event"`
	ReqID string          `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Authenticator validates a bearer token and returns the caller's identity.
type Authenticator func(token string) (userID, role string, err error)

// Client is one websocket connection's signaling session: its room
// membership, router, and every transport/producer/consumer it has created,
// keyed by the 31-bit wire id returned to the browser.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	graph   *mediagraph.Graph
	rec     *recording.Service
	dsp     *Dispatcher
	log     *zap.Logger
	userID  string
	role    string
	sendCh  chan WSMessage

	room   *mediagraph.Room
	member *mediagraph.Member
	router *mediagraph.Router

	transports map[uint32]*mediagraph.Transport
	producers  map[uint32]*mediagraph.Producer
	consumers  map[uint32]*mediagraph.Consumer
}

// ServeWs upgrades the connection and runs the client's read/write pumps.
// Query parameters: token (JWT), room (external room cid).
func ServeWs(hub *Hub, graph *mediagraph.Graph, rec *recording.Service, dsp *Dispatcher, auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		roomCID := c.Query("room")
		if token == "" || roomCID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token and room are required"})
			return
		}
		userID, role, err := auth(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			conn:       conn,
			hub:        hub,
			graph:      graph,
			rec:        rec,
			dsp:        dsp,
			log:        log,
			userID:     userID,
			role:       role,
			sendCh:     make(chan WSMessage, 256),
			transports: make(map[uint32]*mediagraph.Transport),
			producers:  make(map[uint32]*mediagraph.Producer),
			consumers:  make(map[uint32]*mediagraph.Consumer),
		}

		client.room = graph.FindOrCreateRoom(roomCID)
		client.member = graph.JoinRoom(client.room, userID)
		hub.Register(client.room.Base.ID, client.member.Base.ID, client)
		dsp.TrackMember(client.member.Base.ID, client.room.Base.ID)

		router, err := graph.AttachRouter(context.Background(), client.room, DefaultMediaCodecs())
		if err != nil {
			log.Error("attach router", zap.Error(err), zap.String("room", roomCID))
			_ = conn.Close()
			return
		}
		client.router = router

		go client.writePump()
		client.send("joined", joinedPayload{
			MemberID:              wireID32(client.member.Base.ID),
			RouterRTPCapabilities: router.Caps,
		})
		client.readPump()
	}
}

// send enqueues a server-initiated push; silently dropped if the client's
// send buffer is full, matching the teacher's best-effort broadcast idiom.
func (c *Client) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.sendCh <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) reply(reqID, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	select {
	case c.sendCh <- WSMessage{Event: event, ReqID: reqID, Data: data}:
	default:
	}
}

func (c *Client) replyError(reqID string, err error) {
	select {
	case c.sendCh <- WSMessage{Event: "error", ReqID: reqID, Error: err.Error()}:
	default:
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears down every resource this connection created. Member only
// holds weak references to its producers/consumers (for recording
// enumeration), not structural ones, so closing the member alone would
// leak its transports; closing each transport explicitly cascades to the
// producers/consumers it owns, the same way a transport.close() call from
// the client side would.
func (c *Client) close() {
	for _, t := range c.transports {
		c.graph.Close(t.Base.ID)
	}
	if c.member != nil {
		c.graph.Close(c.member.Base.ID)
	}
	if c.room != nil && c.member != nil {
		c.hub.Unregister(c.room.Base.ID, c.member.Base.ID)
	}
	close(c.sendCh)
}
