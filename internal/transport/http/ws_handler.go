package http

import (
	"encoding/json"
	"log"
	"net/http"

	"district-quiz-service/internal/app"
	"district-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Choice string `json:"choice"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type lobbyPayload struct {
	User        domain.User        `json:"user"`
	Leaderboard domain.Leaderboard `json:"leaderboard"`
}

type questionPayload struct {
	Question domain.Question `json:"question"`
	TimeLeft int             `json:"timeLeft,omitempty"`
}

type answerResultPayload struct {
	Correct      bool   `json:"correct"`
	Province     string `json:"province"`
	SessionScore int    `json:"sessionScore"`
	Attempts     int    `json:"attempts"`
}

// ServeWS upgrades the connection and wires it into the game use cases.
// Authentication happens upstream; the handler trusts the supplied identity.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	name := r.URL.Query().Get("name")
	if email == "" || name == "" {
		http.Error(w, "missing email or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	user, board, err := h.service.Login(r.Context(), email, name)
	if err != nil {
		// Authentication/profile failure is a one-shot notice; the player stays signed out.
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	events, cancel, err := h.service.Subscribe(email)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.service.Logout(email)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(ev):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "lobby", Payload: lobbyPayload{User: user, Leaderboard: board}}

readLoop:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			q, timeLeft, err := h.service.StartSession(r.Context(), email)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "question", Payload: questionPayload{Question: q, TimeLeft: timeLeft}}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			out, accepted, err := h.service.SubmitAnswer(r.Context(), email, payload.Choice)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			if !accepted {
				// An answer is already pending for this question; silently ignored.
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: answerResultPayload{
				Correct:      out.Correct,
				Province:     out.Province,
				SessionScore: out.SessionScore,
				Attempts:     out.Attempts,
			}}
		case "skip":
			q, err := h.service.Skip(r.Context(), email)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "question", Payload: questionPayload{Question: q}}
		case "continue":
			user, board, err := h.service.Continue(r.Context(), email)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "lobby", Payload: lobbyPayload{User: user, Leaderboard: board}}
		case "logout":
			h.service.Logout(email)
			break readLoop
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func eventMessage(ev app.Event) outboundMessage[any] {
	switch ev.Type {
	case app.EventQuestion:
		return outboundMessage[any]{Type: "question", Payload: questionPayload{Question: *ev.Question}}
	case app.EventTick:
		return outboundMessage[any]{Type: "tick", Payload: ev.Tick}
	case app.EventSessionOver:
		return outboundMessage[any]{Type: "sessionOver", Payload: ev.Summary}
	case app.EventLeaderboard:
		return outboundMessage[any]{Type: "leaderboard", Payload: ev.Board}
	default:
		return outboundMessage[any]{Type: string(ev.Type)}
	}
}
