package http

import (
	"testing"

	"studyquiz-service/internal/app"
	"studyquiz-service/internal/domain"
)

type recordedEvent struct {
	event   string
	payload any
}

func recordingOutlet(events *[]recordedEvent) Outlet {
	return func(event string, payload any) {
		*events = append(*events, recordedEvent{event: event, payload: payload})
	}
}

func lastEvent(t *testing.T, events []recordedEvent, event string) recordedEvent {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].event == event {
			return events[i]
		}
	}
	t.Fatalf("no %s event recorded in %+v", event, events)
	return recordedEvent{}
}

func TestLobbyCreateAnnouncesParticipants(t *testing.T) {
	hub := NewLobbyHub()
	var hostEvents []recordedEvent

	lobbyID := hub.Create("host", []string{"guest"}, recordingOutlet(&hostEvents))
	if lobbyID == "" {
		t.Fatal("expected a lobby id")
	}

	created := lastEvent(t, hostEvents, app.EventSessionCreated).payload.(app.SessionCreatedPayload)
	if created.HostUserID != "host" || len(created.Users) != 2 {
		t.Fatalf("unexpected created payload %+v", created)
	}
	if created.Users[0].Status != domain.InviteAccepted || created.Users[1].Status != domain.InvitePending {
		t.Fatalf("host must be accepted and invitees pending, got %+v", created.Users)
	}
}

func TestLobbyRespondBroadcastsSnapshot(t *testing.T) {
	hub := NewLobbyHub()
	var hostEvents, guestEvents []recordedEvent

	lobbyID := hub.Create("host", []string{"guest"}, recordingOutlet(&hostEvents))
	if err := hub.Join(lobbyID, "guest", recordingOutlet(&guestEvents)); err != nil {
		t.Fatalf("join: %v", err)
	}

	hub.Respond(lobbyID, "guest", domain.InviteAccepted)

	// The responder does not get the invite_response echoed back, only the
	// authoritative snapshot.
	resp := lastEvent(t, hostEvents, app.EventInviteResponse).payload.(app.InviteResponsePayload)
	if resp.UserID != "guest" || resp.Status != domain.InviteAccepted {
		t.Fatalf("unexpected response %+v", resp)
	}
	snap := lastEvent(t, guestEvents, app.EventSessionSnapshots).payload.(app.SnapshotPayload)
	if len(snap.Users) != 2 || snap.Users[1].Status != domain.InviteAccepted {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestLobbyAllReady(t *testing.T) {
	hub := NewLobbyHub()
	var hostEvents, guestEvents []recordedEvent

	lobbyID := hub.Create("host", []string{"guest"}, recordingOutlet(&hostEvents))
	if err := hub.Join(lobbyID, "guest", recordingOutlet(&guestEvents)); err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.Respond(lobbyID, "guest", domain.InviteAccepted)

	if hub.AllReady(lobbyID) {
		t.Fatal("nobody signalled readiness yet")
	}
	hub.SetReady(lobbyID, "host", true)
	if hub.AllReady(lobbyID) {
		t.Fatal("guest is accepted but not ready")
	}
	hub.SetReady(lobbyID, "guest", true)
	if !hub.AllReady(lobbyID) {
		t.Fatal("expected all ready")
	}
}

func TestLobbyRelayRewritesTopicsToQuizStart(t *testing.T) {
	hub := NewLobbyHub()
	var hostEvents, guestEvents []recordedEvent

	lobbyID := hub.Create("host", []string{"guest"}, recordingOutlet(&hostEvents))
	if err := hub.Join(lobbyID, "guest", recordingOutlet(&guestEvents)); err != nil {
		t.Fatalf("join: %v", err)
	}

	bank := domain.QuestionBank{Groups: []domain.SubjectQuestions{
		{SubjectID: "algebra", Questions: []domain.Question{{ID: "q1", Points: 40}}},
	}}
	hub.Relay(lobbyID, "host", app.EventModeTopics, app.TopicsPayload{SessionRef: lobbyID, QuizData: bank})

	start := lastEvent(t, guestEvents, app.EventQuizStart).payload.(app.QuizStartPayload)
	if start.QBank.TotalQuestions() != 1 {
		t.Fatalf("unexpected quiz_start payload %+v", start)
	}
	for _, ev := range hostEvents {
		if ev.event == app.EventQuizStart || ev.event == app.EventModeTopics {
			t.Fatalf("sender must not receive its own relay, got %s", ev.event)
		}
	}
}

func TestLobbyLeaveDropsParticipant(t *testing.T) {
	hub := NewLobbyHub()
	var hostEvents, guestEvents []recordedEvent

	lobbyID := hub.Create("host", []string{"guest"}, recordingOutlet(&hostEvents))
	if err := hub.Join(lobbyID, "guest", recordingOutlet(&guestEvents)); err != nil {
		t.Fatalf("join: %v", err)
	}

	hub.Leave(lobbyID, "guest")
	snap := lastEvent(t, hostEvents, app.EventSessionSnapshots).payload.(app.SnapshotPayload)
	if len(snap.Users) != 1 || snap.Users[0].UserID != "host" {
		t.Fatalf("expected only the host left, got %+v", snap.Users)
	}

	// Last member out dissolves the lobby.
	hub.Leave(lobbyID, "host")
	if hub.AllReady(lobbyID) {
		t.Fatal("dissolved lobby must not report ready")
	}
}
