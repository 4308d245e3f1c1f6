package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBufferSize = 256
)

// Client is one WebSocket connection. Its id is the participant identity
// recorded with each vote.
type Client struct {
	hub     *Hub
	id      string
	socket  *websocket.Conn
	send    chan []byte
	polls   map[string]bool // guarded by hub.mutex
	limiter *rate.Limiter
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     h,
		id:      uuid.NewString(),
		socket:  conn,
		send:    make(chan []byte, sendBufferSize),
		polls:   make(map[string]bool),
		limiter: rate.NewLimiter(h.voteLimit, h.voteBurst),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("client_id", c.id).Warn("WebSocket read error")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.WithError(err).WithField("client_id", c.id).Debug("Error unmarshaling message")
			c.sendError("invalid message")
			continue
		}

		c.handleMessage(context.Background(), msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, msg Message) {
	switch msg.Type {
	case EventPing:
		c.emit(EventPong, "pong")

	case EventJoinPoll:
		var p JoinPollPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("invalid join-poll payload")
			return
		}

		pollID, err := c.hub.polls.ResolvePoll(ctx, p.PollID, p.JoinCode)
		if err != nil {
			c.sendError(err.Error())
			return
		}

		if !c.hub.Subscribe(c, pollID) {
			return
		}
		log.WithFields(log.Fields{"client_id": c.id, "poll_id": pollID}).Info("Client joined poll")
		c.emit(EventJoined, JoinedPayload{PollID: pollID})

	case EventSubmitResponse:
		var p SubmitResponsePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("invalid submit-response payload")
			return
		}

		if !c.limiter.Allow() {
			votesRejected.WithLabelValues("rate_limited").Inc()
			c.sendError("too many votes, slow down")
			return
		}

		pollID := p.PollID
		if pollID == "" && p.JoinCode != "" {
			resolved, err := c.hub.polls.ResolvePoll(ctx, "", p.JoinCode)
			if err != nil {
				c.sendError(err.Error())
				return
			}
			pollID = resolved
		}

		c.hub.SubmitVote(ctx, c, pollID, p.QuestionID, p.OptionID)

	default:
		log.WithFields(log.Fields{"client_id": c.id, "type": msg.Type}).Debug("Unknown message type")
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// emit queues an event for this client only. Events for a client that has
// been unregistered are discarded.
func (c *Client) emit(msgType string, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		log.WithError(err).WithField("type", msgType).Error("Error marshaling message")
		return
	}

	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()

	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.WithField("client_id", c.id).Warn("Client send buffer full, dropping event")
	}
}

func (c *Client) sendError(message string) {
	c.emit(EventError, ErrorPayload{Message: message})
}
