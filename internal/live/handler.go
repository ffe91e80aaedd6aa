package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Controller is the slice of the queue orchestrator that clinician clients
// drive over the socket.
type Controller interface {
	CallPatient(ctx context.Context, actorID, appointmentID uuid.UUID) error
	CompletePatient(ctx context.Context, actorID, appointmentID uuid.UUID) error
	AnnounceDelay(ctx context.Context, actorID, chamberID uuid.UUID, date time.Time, minutes int, message string) error
	SendDoctorMessage(ctx context.Context, actorID, chamberID uuid.UUID, date time.Time, text string) error

	// ChamberSnapshot renders the current queue state of a chamber as a
	// queue_status event, sent to a client right after it joins the topic.
	ChamberSnapshot(ctx context.Context, chamberID uuid.UUID, date time.Time) (Event, error)
}

// ClientMessage is the inbound protocol: topic membership changes from any
// client, plus chamber control actions from the doctor's dashboard.
type ClientMessage struct {
	Action        string   `json:"action"` // join, leave, callPatient, completePatient, announceDelay, sendMessage
	Topics        []string `json:"topics,omitempty"`
	AppointmentID string   `json:"appointmentId,omitempty"`
	ChamberID     string   `json:"chamberId,omitempty"`
	Minutes       int      `json:"minutes,omitempty"`
	Text          string   `json:"text,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the fronting proxy
	},
}

// Handler upgrades HTTP connections and routes the client protocol.
type Handler struct {
	hub        *Hub
	controller Controller
}

func NewHandler(hub *Hub, controller Controller) *Handler {
	return &Handler{hub: hub, controller: controller}
}

// ServeHTTP upgrades the connection, registers the client and starts the
// pumps. Identity comes from query params; authentication happens upstream.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actorID, err := uuid.Parse(r.URL.Query().Get("actorId"))
	if err != nil {
		http.Error(w, "actorId must be a valid UUID", http.StatusBadRequest)
		return
	}
	role := r.URL.Query().Get("role")
	if role != "doctor" && role != "patient" {
		http.Error(w, "role must be doctor or patient", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(actorID, role)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
}

func (h *Handler) readPump(client *Client, ws *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // ignore malformed frames
		}

		h.process(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *websocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}

func (h *Handler) process(client *Client, msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Action {
	case "join":
		h.hub.Join(client, msg.Topics...)
		h.sendSnapshots(ctx, client, msg.Topics)
	case "leave":
		h.hub.Leave(client, msg.Topics...)
	case "callPatient":
		if id, err := uuid.Parse(msg.AppointmentID); err == nil {
			if err := h.controller.CallPatient(ctx, client.Actor, id); err != nil {
				log.Printf("live: callPatient by %s: %v", client.Actor, err)
			}
		}
	case "completePatient":
		if id, err := uuid.Parse(msg.AppointmentID); err == nil {
			if err := h.controller.CompletePatient(ctx, client.Actor, id); err != nil {
				log.Printf("live: completePatient by %s: %v", client.Actor, err)
			}
		}
	case "announceDelay":
		if id, err := uuid.Parse(msg.ChamberID); err == nil {
			if err := h.controller.AnnounceDelay(ctx, client.Actor, id, today(), msg.Minutes, msg.Text); err != nil {
				log.Printf("live: announceDelay by %s: %v", client.Actor, err)
			}
		}
	case "sendMessage":
		if id, err := uuid.Parse(msg.ChamberID); err == nil {
			if err := h.controller.SendDoctorMessage(ctx, client.Actor, id, today(), msg.Text); err != nil {
				log.Printf("live: sendMessage by %s: %v", client.Actor, err)
			}
		}
	}
}

// sendSnapshots pushes a fresh queue snapshot for every chamber topic just
// joined, so a reconnecting client never depends on missed deltas.
func (h *Handler) sendSnapshots(ctx context.Context, client *Client, topics []string) {
	for _, topic := range topics {
		chamberID, ok := ParseChamberTopic(topic)
		if !ok {
			continue
		}
		ev, err := h.controller.ChamberSnapshot(ctx, chamberID, today())
		if err != nil {
			log.Printf("live: snapshot for %s: %v", topic, err)
			continue
		}
		h.hub.SendTo(client, ev)
	}
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
