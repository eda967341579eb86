package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studyquiz-service/internal/app"
	"studyquiz-service/internal/domain"
	"studyquiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.ResultStore) {
	t.Helper()
	return newServerWithQuestions(t, sampleQuestions())
}

func newServerWithQuestions(t *testing.T, questions []domain.Question) (*httptest.Server, *memory.ResultStore) {
	t.Helper()
	loader := memory.NewStaticQuestionLoader(map[string]map[string][]domain.Question{
		"math": {"algebra": questions},
	})
	results := memory.NewResultStore()
	service := app.NewSessionService(
		memory.NewSessionStore(),
		memory.NewQuestionRepository(loader, time.Minute),
		results,
		memory.NewQBankStore(),
		app.DefaultScoringConfig(),
	)
	wsHandler := NewWSHandler(service, NewLobbyHub())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, results
}

func dial(t *testing.T, server *httptest.Server, sessionID, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?sessionId=" + sessionID + "&userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil drains messages until one of the given type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == want {
			return payload
		}
	}
	t.Fatalf("no %s message within 20 reads", want)
	return nil
}

// waitAllReady drains snapshots until every participant reports ready, so
// the host's quiz start cannot race the readiness broadcasts.
func waitAllReady(conn *websocket.Conn, t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		payload := readUntil(conn, t, "session_snapshots")
		users, _ := payload["users"].([]any)
		ready := len(users) > 0
		for _, u := range users {
			entry, _ := u.(map[string]any)
			if ok, _ := entry["isReady"].(bool); !ok {
				ready = false
			}
		}
		if ready {
			return
		}
	}
	t.Fatal("lobby never became ready")
}

func stateStage(t *testing.T, payload map[string]any) string {
	t.Helper()
	stage, ok := payload["stage"].(string)
	if !ok {
		t.Fatalf("state payload without stage: %+v", payload)
	}
	return stage
}

func TestWebSocketSoloFlow(t *testing.T) {
	server, results := newTestServer(t)
	conn := dial(t, server, "s1", "u1")

	// The connection opens with the initial state.
	_, payload := readNext(conn, t, "state")
	if got := stateStage(t, payload); got != "mode" {
		t.Fatalf("expected mode stage, got %s", got)
	}

	send(t, conn, "select_mode", map[string]any{"mode": "solo"})
	_, payload = readNext(conn, t, "state")
	if got := stateStage(t, payload); got != "category" {
		t.Fatalf("expected category stage, got %s", got)
	}

	send(t, conn, "select_category", map[string]any{"category": map[string]any{"id": "math", "name": "Math"}})
	readNext(conn, t, "state")

	send(t, conn, "toggle_subject", map[string]any{"subject": map[string]any{
		"id":   "algebra",
		"name": "Algebra",
		"topics": []map[string]any{
			{"id": "linear-equations", "name": "Linear equations", "visible": true},
		},
	}})
	readNext(conn, t, "state")

	send(t, conn, "confirm_subjects", map[string]any{})
	_, payload = readNext(conn, t, "state")
	if got := stateStage(t, payload); got != "study" {
		t.Fatalf("expected study stage, got %s", got)
	}

	// The readiness gate blocks until the visible topic is studied.
	send(t, conn, "advance_to_quiz", map[string]any{})
	readNext(conn, t, "error")
	readNext(conn, t, "state")

	send(t, conn, "mark_studied", map[string]any{"subjectId": "algebra", "topicId": "linear-equations"})
	readNext(conn, t, "state")

	send(t, conn, "advance_to_quiz", map[string]any{})
	_, payload = readNext(conn, t, "state")
	if got := stateStage(t, payload); got != "start" {
		t.Fatalf("expected play to begin, got %s", got)
	}
	if payload["question"] == nil {
		t.Fatal("expected a current question in play state")
	}

	// Advancing inside the dwell window is rejected but recoverable.
	send(t, conn, "submit_answer", map[string]any{"option": map[string]any{"id": "o2", "text": "4", "correct": true}})
	readNext(conn, t, "state")
	send(t, conn, "advance_question", map[string]any{})
	readNext(conn, t, "error")
	readNext(conn, t, "state")

	// The countdown event finishes the single-question bank.
	send(t, conn, "expire_question", map[string]any{"questionId": "q1"})
	finished := readUntil(conn, t, "finished")
	if finished["submissionKey"] == nil {
		t.Fatalf("finished payload without submission key: %+v", finished)
	}
	_, payload = readNext(conn, t, "state")
	if got := stateStage(t, payload); got != "finished" {
		t.Fatalf("expected finished stage, got %s", got)
	}
	if results.Count() != 1 {
		t.Fatalf("expected one submitted result, got %d", results.Count())
	}
}

// driveSoloToPlay pushes a fresh connection through the solo stages into play.
func driveSoloToPlay(conn *websocket.Conn, t *testing.T) {
	t.Helper()
	readNext(conn, t, "state")
	send(t, conn, "select_mode", map[string]any{"mode": "solo"})
	send(t, conn, "select_category", map[string]any{"category": map[string]any{"id": "math", "name": "Math"}})
	send(t, conn, "toggle_subject", map[string]any{"subject": map[string]any{
		"id":   "algebra",
		"name": "Algebra",
		"topics": []map[string]any{
			{"id": "linear-equations", "name": "Linear equations", "visible": true},
		},
	}})
	send(t, conn, "confirm_subjects", map[string]any{})
	send(t, conn, "mark_studied", map[string]any{"subjectId": "algebra", "topicId": "linear-equations"})
	send(t, conn, "advance_to_quiz", map[string]any{})
	for i := 0; i < 20; i++ {
		_, payload := readNext(conn, t, "state")
		if stateStage(t, payload) == "start" {
			return
		}
	}
	t.Fatal("session never reached play")
}

func TestWebSocketCountdownPushesState(t *testing.T) {
	short := func(id string) domain.Question {
		return domain.Question{
			ID:      id,
			TopicID: "linear-equations",
			Prompt:  "What is 2 + 2?",
			Options: []domain.Option{
				{ID: id + "-a", Text: "3"},
				{ID: id + "-b", Text: "4", Correct: true},
			},
			TimerSeconds: 1,
			Points:       40,
		}
	}
	server, results := newServerWithQuestions(t, []domain.Question{short("q1"), short("q2")})
	conn := dial(t, server, "s1", "u1")
	driveSoloToPlay(conn, t)

	// Not a single client message from here on: the server countdown moves
	// play forward and the new question must arrive unprompted.
	payload := readUntil(conn, t, "state")
	q, _ := payload["question"].(map[string]any)
	if q == nil || q["id"] != "q2" {
		t.Fatalf("expected pushed state with q2, got %+v", payload)
	}

	// The second countdown exhausts the bank.
	finished := readUntil(conn, t, "finished")
	if finished["submissionKey"] == nil {
		t.Fatalf("finished payload without submission key: %+v", finished)
	}
	payload = readUntil(conn, t, "state")
	if got := stateStage(t, payload); got != "finished" {
		t.Fatalf("expected finished stage, got %s", got)
	}
	if results.Count() != 1 {
		t.Fatalf("expected one submitted result, got %d", results.Count())
	}
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	c := &wsConn{send: make(chan outboundMessage[any], 1)}
	c.closeSend()

	// Late hub broadcasts and timer pushes land here after teardown; they
	// must be dropped, not sent on the closed channel.
	c.enqueue("state", map[string]any{"stage": "finished"})
	c.closeSend()
}

func TestEnqueueRacingCloseSend(t *testing.T) {
	c := &wsConn{send: make(chan outboundMessage[any], 4)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c.enqueue("state", i)
		}
	}()
	go func() {
		for range c.send {
		}
	}()
	c.closeSend()
	<-done
}

func TestWebSocketLobbyFlow(t *testing.T) {
	server, _ := newTestServer(t)

	host := dial(t, server, "s-host", "host")
	readNext(host, t, "state")
	send(t, host, "select_mode", map[string]any{"mode": "friends"})
	readNext(host, t, "state")

	send(t, host, "create_lobby", map[string]any{"invitees": []string{"guest"}})
	created := readUntil(host, t, "session_created")
	lobbyID, _ := created["sessionId"].(string)
	if lobbyID == "" {
		t.Fatalf("no lobby id in %+v", created)
	}

	guest := dial(t, server, "s-guest", "guest")
	readNext(guest, t, "state")
	send(t, guest, "select_mode", map[string]any{"mode": "friends"})
	readNext(guest, t, "state")

	send(t, guest, "join_lobby", map[string]any{"lobbyId": lobbyID})
	readUntil(guest, t, "session_created")

	send(t, guest, "respond_invite", map[string]any{"status": "accepted"})
	readUntil(host, t, "invite_response")

	send(t, host, "set_ready", map[string]any{"ready": true})
	send(t, guest, "set_ready", map[string]any{"ready": true})
	waitAllReady(guest, t)

	// The host drives category, subjects and study, then starts the quiz.
	send(t, host, "select_category", map[string]any{"category": map[string]any{"id": "math", "name": "Math"}})
	send(t, host, "toggle_subject", map[string]any{"subject": map[string]any{
		"id":   "algebra",
		"name": "Algebra",
		"topics": []map[string]any{
			{"id": "linear-equations", "name": "Linear equations", "visible": true},
		},
	}})
	send(t, host, "confirm_subjects", map[string]any{})
	send(t, host, "mark_studied", map[string]any{"subjectId": "algebra", "topicId": "linear-equations"})
	send(t, host, "advance_to_quiz", map[string]any{})

	// The guest never fetched: the host's bank arrives as quiz_start and the
	// guest lands straight in play.
	start := readUntil(guest, t, "quiz_start")
	if start["qBank"] == nil {
		t.Fatalf("quiz_start without bank: %+v", start)
	}
	payload := readUntil(guest, t, "state")
	if got := stateStage(t, payload); got != "start" {
		t.Fatalf("expected guest in play, got %s", got)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?sessionId=s1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:      "q1",
			TopicID: "linear-equations",
			Prompt:  "What is 2 + 2?",
			Options: []domain.Option{
				{ID: "o1", Text: "3", Correct: false},
				{ID: "o2", Text: "4", Correct: true},
				{ID: "o3", Text: "5", Correct: false},
			},
			TimerSeconds: 30,
			Points:       40,
		},
	}
}
