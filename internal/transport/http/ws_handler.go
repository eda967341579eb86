package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"studyquiz-service/internal/app"
	"studyquiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.SessionService
	hub      *LobbyHub
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, hub *LobbyHub) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
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

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type selectModePayload struct {
	Mode domain.Mode `json:"mode"`
}

type createLobbyPayload struct {
	Invitees []string `json:"invitees"`
}

type joinLobbyPayload struct {
	LobbyID string `json:"lobbyId"`
}

type setReadyPayload struct {
	Ready bool `json:"ready"`
}

type respondInvitePayload struct {
	Status domain.InviteStatus `json:"status"`
}

type selectCategoryPayload struct {
	Category domain.CategoryRef `json:"category"`
}

type toggleSubjectPayload struct {
	Subject domain.Subject `json:"subject"`
}

type markStudiedPayload struct {
	SubjectID string `json:"subjectId"`
	TopicID   string `json:"topicId"`
}

type submitAnswerPayload struct {
	Option domain.Option `json:"option"`
}

type expireQuestionPayload struct {
	QuestionID string `json:"questionId"`
}

// wsConn bundles the per-connection wiring: one session, its multiplayer sync,
// and the send queue feeding the single writer goroutine. sendMu guards the
// queue against hub broadcasts and timer events that land after teardown has
// closed it.
type wsConn struct {
	userID  string
	session *app.Session
	sync    *app.MultiplayerSync
	lobbyID string

	sendMu     sync.Mutex
	sendClosed bool
	send       chan outboundMessage[any]
}

// relayChannel is the app.RealtimeChannel for one connection: outbound
// intents go to the lobby hub, which fans them out to peers.
type relayChannel struct {
	hub  *LobbyHub
	conn *wsConn
}

func (c *relayChannel) Emit(event string, payload any) error {
	if c.conn.lobbyID == "" {
		return nil
	}
	c.hub.Relay(c.conn.lobbyID, c.conn.userID, event, payload)
	return nil
}

// ServeWS upgrades the request and runs one quiz session flow over the
// socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")
	if sessionID == "" || userID == "" {
		http.Error(w, "missing sessionId or userId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	c := &wsConn{
		userID:  userID,
		session: h.service.Create(sessionID, userID),
		send:    make(chan outboundMessage[any], 16),
	}
	c.sync = app.NewMultiplayerSync(&relayChannel{hub: h.hub, conn: c}, c.session)

	// Server-side countdowns advance the session without a client message;
	// push the fresh state (and the summary, when the expiry finished the
	// quiz) so the client never answers against a question it cannot see.
	h.service.Observe(c.session.ID(), func(summary *domain.SessionSummary) {
		if summary != nil {
			c.enqueue("finished", summary)
		}
		c.enqueue("state", c.session.Snapshot())
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := ws.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	c.enqueue("state", c.session.Snapshot())

	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), c, inbound)
	}

	h.teardown(c)
	c.closeSend()
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, c *wsConn, inbound inboundMessage) {
	var err error
	switch inbound.Type {
	case "select_mode":
		var p selectModePayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			err = c.session.SelectMode(p.Mode)
		}
	case "create_lobby":
		var p createLobbyPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			c.lobbyID = h.hub.Create(c.userID, p.Invitees, c.outlet())
		}
	case "join_lobby":
		var p joinLobbyPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			if err = h.hub.Join(p.LobbyID, c.userID, c.outlet()); err == nil {
				c.lobbyID = p.LobbyID
			}
		}
	case "set_ready":
		var p setReadyPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil && c.lobbyID != "" {
			h.hub.SetReady(c.lobbyID, c.userID, p.Ready)
		}
	case "respond_invite":
		var p respondInvitePayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil && c.lobbyID != "" {
			h.hub.Respond(c.lobbyID, c.userID, p.Status)
		}
	case "select_category":
		var p selectCategoryPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			err = c.session.SelectCategory(p.Category)
		}
	case "toggle_subject":
		var p toggleSubjectPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			err = c.session.ToggleSubject(p.Subject)
		}
	case "confirm_subjects":
		err = c.session.ConfirmSubjects()
	case "mark_studied":
		var p markStudiedPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			err = c.session.MarkTopicStudied(p.SubjectID, p.TopicID)
		}
	case "advance_to_quiz":
		if c.lobbyID != "" && !h.hub.AllReady(c.lobbyID) {
			c.enqueue("error", errorPayload{Message: "players not ready"})
			return
		}
		err = h.service.AdvanceToQuiz(ctx, c.session.ID())
	case "retry_fetch":
		err = h.service.RetryFetch(ctx, c.session.ID())
	case "submit_answer":
		var p submitAnswerPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			err = c.session.SubmitAnswer(p.Option)
		}
	case "advance_question":
		var summary *domain.SessionSummary
		summary, err = h.service.AdvanceQuestion(ctx, c.session.ID())
		if summary != nil {
			c.enqueue("finished", summary)
		}
	case "expire_question":
		var p expireQuestionPayload
		if err = json.Unmarshal(inbound.Payload, &p); err == nil {
			var summary *domain.SessionSummary
			summary, err = h.service.ExpireQuestion(ctx, c.session.ID(), p.QuestionID)
			if summary != nil {
				c.enqueue("finished", summary)
			}
		}
	case "retry":
		err = h.service.Retry(ctx, c.session.ID())
	case "quit":
		if c.lobbyID != "" {
			defer h.leaveLobby(c)
		}
		err = h.service.Quit(c.session.ID())
	default:
		c.enqueue("error", errorPayload{Message: "unsupported message type"})
		return
	}

	if err != nil {
		c.enqueue("error", errorPayload{Message: err.Error()})
		if !recoverable(err) {
			return
		}
	}
	c.enqueue("state", c.session.Snapshot())
}

// recoverable reports whether the flow continues after the error; fetch and
// submit failures keep the retained state so the client can retry.
func recoverable(err error) bool {
	return errors.Is(err, domain.ErrFetchFailed) ||
		errors.Is(err, domain.ErrSubmitFailed) ||
		errors.Is(err, domain.ErrTransitionRejected) ||
		errors.Is(err, domain.ErrReadinessNotMet) ||
		errors.Is(err, domain.ErrAdvanceTooSoon) ||
		errors.Is(err, domain.ErrAnswerRequired)
}

// outlet is the hub's delivery path into this connection: events mutate the
// session through the sync first, then reach the client verbatim.
func (c *wsConn) outlet() Outlet {
	return func(event string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("marshal realtime payload %s: %v", event, err)
			return
		}
		if err := c.sync.HandleEvent(event, raw); err != nil {
			log.Printf("handle realtime event %s: %v", event, err)
		}
		c.enqueue(event, json.RawMessage(raw))
		c.enqueue("state", c.session.Snapshot())
	}
}

func (c *wsConn) enqueue(msgType string, payload any) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- outboundMessage[any]{Type: msgType, Payload: payload}:
	default:
		// Slow client: drop rather than block the broadcast path.
		log.Printf("ws send buffer full, dropping %s", msgType)
	}
}

// closeSend shuts the queue so in-flight hub broadcasts become no-ops instead
// of sends on a closed channel.
func (c *wsConn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (h *WSHandler) teardown(c *wsConn) {
	if c.lobbyID != "" {
		h.leaveLobby(c)
	}
	if c.session.Stage() != domain.StageFinished {
		_ = h.service.Quit(c.session.ID())
	} else {
		h.service.Close(c.session.ID())
	}
	c.sync.Detach()
}

func (h *WSHandler) leaveLobby(c *wsConn) {
	h.hub.Leave(c.lobbyID, c.userID)
	c.lobbyID = ""
}
