package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"canteenhub/apperr"
	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	joinTimeout    = 3 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Verifier turns a bearer token into the caller's identity.
type Verifier interface {
	Verify(token string) (globals.Identity, error)
}

type CanteenFinder interface {
	FindCanteen(ctx context.Context, id string) (*models.Canteen, error)
}

// inboundPayload is what clients send:
type inboundPayload struct {
	Action  string `json:"action"` // "join", "leave"
	Channel string `json:"channel"`
}

// controlPayload acknowledges or refuses a client request.
type controlPayload struct {
	Type    string `json:"type"` // "joined", "left", "error"
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func control(typ, channel, msg string) []byte {
	data, _ := json.Marshal(controlPayload{Type: typ, Channel: channel, Message: msg})
	return data
}

type Server struct {
	hub      *Hub
	verifier Verifier
	canteens CanteenFinder
	buffer   int
	log      *logrus.Entry
}

func NewServer(hub *Hub, v Verifier, canteens CanteenFinder, buffer int, logger *logrus.Logger) *Server {
	if buffer < 1 {
		buffer = 1
	}
	return &Server{hub: hub, verifier: v, canteens: canteens, buffer: buffer, log: logger.WithField("component", "ws")}
}

func bearer(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// WebSocketHandler authenticates at upgrade time; channel membership is requested
// afterwards with join frames.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, err := s.verifier.Verify(bearer(r))
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade: %v", err)
		return
	}
	client := NewClient(conn, id, s.buffer)
	s.hub.Register(client)

	go s.writePump(client)
	go s.readPump(client)
}

// authorize decides whether id may receive events on channel.
func (s *Server) authorize(ctx context.Context, id globals.Identity, channel string) error {
	switch {
	case strings.HasPrefix(channel, "user:"):
		if strings.TrimPrefix(channel, "user:") != id.UserID {
			return apperr.New(apperr.Unauthorized, "cannot subscribe to another user's channel")
		}
		return nil
	case strings.HasPrefix(channel, "canteen:"):
		if id.IsAdmin() {
			return nil
		}
		c, err := s.canteens.FindCanteen(ctx, strings.TrimPrefix(channel, "canteen:"))
		if err != nil {
			return err
		}
		if !c.HasStaff(id.UserID) {
			return apperr.New(apperr.Unauthorized, "not staff of this canteen")
		}
		return nil
	default:
		return apperr.New(apperr.InvalidInput, "unknown channel %q", channel)
	}
}

func (s *Server) readPump(c *Client) {
	defer func() {
		s.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithField("client", c.ID).Debugf("read: %v", err)
			}
			return
		}

		var in inboundPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			s.hub.Reply(c, control("error", "", "invalid payload"))
			continue
		}

		switch in.Action {
		case "join":
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			err := s.authorize(ctx, c.Identity, in.Channel)
			cancel()
			if err != nil {
				s.hub.Reply(c, control("error", in.Channel, apperr.Message(err)))
				continue
			}
			s.hub.Join(c, in.Channel, control("joined", in.Channel, ""))
		case "leave":
			s.hub.Leave(c, in.Channel, control("left", in.Channel, ""))
		default:
			s.hub.Reply(c, control("error", "", "unknown action"))
		}
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
