package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Event names used on the WebSocket.
const (
	EventJoinPoll       = "join-poll"
	EventSubmitResponse = "submit-response"
	EventPing           = "ping"

	EventJoined         = "joined"
	EventResponseUpdate = "response-update"
	EventQuestionChange = "question-change"
	EventError          = "error"
	EventPong           = "pong"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPollPayload struct {
	PollID   string `json:"pollId"`
	JoinCode string `json:"joinCode"`
}

type SubmitResponsePayload struct {
	PollID     string `json:"pollId"`
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
	JoinCode   string `json:"joinCode"`
}

type JoinedPayload struct {
	PollID string `json:"pollId"`
}

type ResponseUpdatePayload struct {
	PollID     string     `json:"pollId"`
	QuestionID string     `json:"questionId"`
	Results    []TallyRow `json:"results"`
}

type QuestionChangePayload struct {
	QuestionID string `json:"questionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Relay carries encoded events between server instances. Messages
// published through a relay come back to every instance, this one
// included, through Deliver.
type Relay interface {
	Publish(ctx context.Context, pollID string, data []byte) error
}

// Hub tracks live connections and the polls each one subscribed to.
// Registry changes happen on the Run goroutine; broadcasts read the
// registry under the read lock.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	done       chan struct{}
	mutex      sync.RWMutex
	polls      *PollService
	relay      Relay
	voteLimit  rate.Limit
	voteBurst  int
}

type subscription struct {
	client *Client
	pollID string
	ack    chan bool
}

// NewHub creates a hub. votesPerSecond <= 0 disables vote throttling.
func NewHub(polls *PollService, votesPerSecond float64, voteBurst int) *Hub {
	limit := rate.Limit(votesPerSecond)
	if votesPerSecond <= 0 {
		limit = rate.Inf
	}
	if voteBurst < 1 {
		voteBurst = 1
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		done:       make(chan struct{}),
		polls:      polls,
		voteLimit:  limit,
		voteBurst:  voteBurst,
	}
}

// SetRelay routes broadcasts through r. Call before Run.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mutex.Unlock()
			log.Info("Hub stopped")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			connectedClients.Inc()
			log.WithFields(log.Fields{"client_id": client.id, "clients": total}).Debug("Client registered")

			// Pumps start only once the client is visible to emit.
			go client.writePump()
			go client.readPump()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropLocked(client)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			log.WithFields(log.Fields{"client_id": client.id, "clients": total}).Debug("Client unregistered")

		case sub := <-h.subscribe:
			h.mutex.Lock()
			_, ok := h.clients[sub.client]
			if ok {
				room, exists := h.rooms[sub.pollID]
				if !exists {
					room = make(map[*Client]bool)
					h.rooms[sub.pollID] = room
				}
				room[sub.client] = true
				sub.client.polls[sub.pollID] = true
			}
			h.mutex.Unlock()
			sub.ack <- ok
		}
	}
}

// dropLocked removes a client from every room it joined and closes its
// send channel. The caller holds the write lock.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	for pollID := range client.polls {
		room := h.rooms[pollID]
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, pollID)
		}
	}
	close(client.send)
	connectedClients.Dec()
}

// RegisterClient wraps an upgraded connection in a Client and hands it to
// the hub, which starts its pumps. It returns nil if the hub has stopped.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := newClient(h, conn)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds client to the room of pollID. It reports false if the
// client is no longer registered.
func (h *Hub) Subscribe(client *Client, pollID string) bool {
	sub := subscription{client: client, pollID: pollID, ack: make(chan bool, 1)}

	select {
	case h.subscribe <- sub:
	case <-h.done:
		return false
	}
	return <-sub.ack
}

// Broadcast sends an event to every subscriber of a poll, through the
// relay when one is configured.
func (h *Hub) Broadcast(ctx context.Context, pollID, msgType string, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		log.WithError(err).WithField("type", msgType).Error("Error marshaling message")
		return
	}

	broadcastsSent.WithLabelValues(msgType).Inc()

	if h.relay != nil {
		err := h.relay.Publish(ctx, pollID, data)
		if err == nil {
			return
		}
		log.WithError(err).WithField("poll_id", pollID).Error("Relay publish failed, delivering locally")
	}

	h.Deliver(pollID, data)
}

// Deliver hands an encoded event to the local subscribers of a poll.
// Subscribers whose buffers are full miss the event and are disconnected.
func (h *Hub) Deliver(pollID string, data []byte) {
	var slow []*Client
	sent := 0

	h.mutex.RLock()
	for client := range h.rooms[pollID] {
		select {
		case client.send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		log.WithFields(log.Fields{"client_id": client.id, "poll_id": pollID}).Warn("Client send buffer full, closing connection")
		h.UnregisterClient(client)
	}

	log.WithFields(log.Fields{"poll_id": pollID, "clients": sent}).Debug("Event delivered")
}

// SubmitVote records a vote and broadcasts the question's fresh tally to
// the poll. Failures are reported to the submitting client only.
func (h *Hub) SubmitVote(ctx context.Context, client *Client, pollID, questionID, optionID string) error {
	if err := h.polls.RecordResponse(ctx, pollID, questionID, optionID, client.id); err != nil {
		votesRejected.WithLabelValues(rejectReason(err)).Inc()
		log.WithError(err).WithFields(log.Fields{"client_id": client.id, "poll_id": pollID}).Warn("Vote rejected")
		client.sendError(err.Error())
		return err
	}
	votesRecorded.Inc()

	results, err := h.polls.TallyFor(ctx, questionID)
	if err != nil {
		log.WithError(err).WithField("question_id", questionID).Error("Tally failed after recording vote")
		client.sendError(err.Error())
		return err
	}

	h.Broadcast(ctx, pollID, EventResponseUpdate, ResponseUpdatePayload{
		PollID:     pollID,
		QuestionID: questionID,
		Results:    results,
	})
	return nil
}

// PublishActiveQuestionChange tells every subscriber of a poll which
// question is now active.
func (h *Hub) PublishActiveQuestionChange(ctx context.Context, pollID, questionID string) {
	h.Broadcast(ctx, pollID, EventQuestionChange, QuestionChangePayload{QuestionID: questionID})
}

// ConnectedClients returns the number of local connections subscribed to
// a poll.
func (h *Hub) ConnectedClients(pollID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[pollID])
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

func rejectReason(err error) string {
	switch {
	case IsValidation(err):
		return "invalid"
	case IsStore(err):
		return "store"
	default:
		return "other"
	}
}
