// Package live is the real-time fan-out surface of the queue: a topic hub
// over WebSocket connections. Delivery is at-most-once and best-effort; a
// subscriber that disconnects re-joins and receives a fresh snapshot, never a
// replay of missed deltas.
package live

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic kinds. Patients join their own appointment topic plus the chamber
// topic; the attending doctor joins the chamber topic as controller.
func ChamberTopic(id uuid.UUID) string     { return "chamber:" + id.String() }
func AppointmentTopic(id uuid.UUID) string { return "appointment:" + id.String() }
func ClinicianTopic(id uuid.UUID) string   { return "clinician:" + id.String() }

// ParseChamberTopic extracts the chamber id from a chamber:{id} topic.
func ParseChamberTopic(topic string) (uuid.UUID, bool) {
	const prefix = "chamber:"
	if !strings.HasPrefix(topic, prefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(topic, prefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Server-originated event types.
const (
	EventQueueStatus   = "queue_status"
	EventDelay         = "delay_announced"
	EventYourTurn      = "your_turn"
	EventApproaching   = "turn_approaching"
	EventCompleted     = "consultation_completed"
	EventDoctorMessage = "doctor_message"
)

// Message is the bilingual text pair carried by every pushed event.
type Message struct {
	En string `json:"en"`
	Bn string `json:"bn"`
}

// Event is one push delivered to every subscriber of its topic.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Message   Message         `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Publisher is the side of the hub the queue orchestrator writes to.
type Publisher interface {
	Publish(topic string, event Event)
}

// Client is one live connection. Topic membership is a set owned by the hub;
// Send is drained by the connection's write pump.
type Client struct {
	ID     string
	Actor  uuid.UUID
	Role   string
	Send   chan []byte
	topics map[string]struct{}
}

func NewClient(actor uuid.UUID, role string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Actor:  actor,
		Role:   role,
		Send:   make(chan []byte, 256),
		topics: make(map[string]struct{}),
	}
}

// Hub is the connection registry: a forward index client→topics and a reverse
// index topic→clients, guarded by one RWMutex.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	all    map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister removes the client from every topic, drops its record and closes
// its Send channel. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for topic := range client.topics {
		h.dropLocked(topic, client)
	}

	delete(h.all, client)
	close(client.Send)
}

// Join subscribes the client to the given topics. Joining a topic the client
// already holds is a no-op.
func (h *Hub) Join(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Client]struct{})
		}
		h.topics[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
}

// Leave unsubscribes the client from the given topics; unknown topics are
// ignored.
func (h *Hub) Leave(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.dropLocked(topic, client)
		delete(client.topics, topic)
	}
}

func (h *Hub) dropLocked(topic string, client *Client) {
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish sends an event to every client subscribed to its topic. A client
// with a full buffer is skipped; its view catches up on the next snapshot.
func (h *Hub) Publish(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("live: marshal event %s: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// SendTo delivers an event to a single client regardless of topics.
func (h *Hub) SendTo(client *Client, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("live: marshal event %s: %v", event.Type, err)
		return
	}

	select {
	case client.Send <- data:
	default:
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns how many clients hold the topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
