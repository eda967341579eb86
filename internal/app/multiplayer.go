package app

import (
	"encoding/json"
	"fmt"
	"log"

	"studyquiz-service/internal/domain"
)

// Real-time event vocabulary shared by both directions of the channel.
const (
	EventSessionCreated   = "session_created"
	EventSessionSnapshots = "session_snapshots"
	EventQuizStart        = "quiz_start"
	EventInviteResponse   = "invite_response"
	EventModeCategory     = "mode_category"
	EventModeSubjects     = "mode_subjects"
	EventModeTopics       = "mode_topics"
)

// RealtimeChannel is the injected pub/sub primitive. Emit is fire-and-forget;
// no delivery guarantees are assumed.
type RealtimeChannel interface {
	Emit(event string, payload any) error
}

// SessionCreatedPayload announces a new multiplayer lobby.
type SessionCreatedPayload struct {
	SessionRef string          `json:"sessionId"`
	HostUserID string          `json:"hostUserId"`
	Users      []domain.Invite `json:"users"`
}

// SnapshotPayload is a full, authoritative lobby state.
type SnapshotPayload struct {
	Users []domain.Invite `json:"users"`
}

// QuizStartPayload carries the host-distributed question bank.
type QuizStartPayload struct {
	QBank domain.QuestionBank `json:"qBank"`
}

// InviteResponsePayload updates one participant's invite status.
type InviteResponsePayload struct {
	SessionRef string              `json:"sessionId"`
	UserID     string              `json:"userId"`
	Status     domain.InviteStatus `json:"status"`
}

// CategoryPayload mirrors the host's category pick to peers.
type CategoryPayload struct {
	SessionRef string             `json:"sessionId"`
	Category   domain.CategoryRef `json:"category"`
}

// SubjectsPayload mirrors the host's subject selection to peers.
type SubjectsPayload struct {
	SessionRef string           `json:"sessionId"`
	Subjects   []domain.Subject `json:"subjects"`
}

// TopicsPayload distributes the host-generated question bank so every peer
// plays the same questions.
type TopicsPayload struct {
	SessionRef string              `json:"sessionId"`
	QuizData   domain.QuestionBank `json:"quizData"`
	Subjects   []domain.Subject    `json:"subjects"`
}

// MultiplayerSync bridges the real-time channel and one session. It holds no
// state of its own beyond the two references: inbound events become session
// mutations, outbound intents become channel emits.
type MultiplayerSync struct {
	channel RealtimeChannel
	session *Session
}

// NewMultiplayerSync wires a session to a channel and registers the sync as
// the session's outbound intent sink.
func NewMultiplayerSync(channel RealtimeChannel, session *Session) *MultiplayerSync {
	sync := &MultiplayerSync{channel: channel, session: session}
	session.SetNotifier(sync)
	return sync
}

// Detach unregisters the sync from its session.
func (m *MultiplayerSync) Detach() {
	m.session.SetNotifier(nil)
}

// HandleEvent dispatches one inbound real-time event to the session.
func (m *MultiplayerSync) HandleEvent(event string, payload json.RawMessage) error {
	switch event {
	case EventSessionCreated:
		var p SessionCreatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		m.session.SetMultiplayerSession(p.SessionRef, p.HostUserID == m.session.UserID(), p.Users)
	case EventSessionSnapshots:
		var p SnapshotPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		m.session.ReplaceInvites(p.Users)
	case EventQuizStart:
		var p QuizStartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		// The host already distributed the bank; no fetch step on peers.
		return m.session.BeginHostPlay(p.QBank)
	case EventInviteResponse:
		var p InviteResponsePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		m.session.UpdateInviteStatus(p.UserID, p.Status)
	default:
		return fmt.Errorf("unknown realtime event %q", event)
	}
	return nil
}

// CategorySelected implements TransitionNotifier.
func (m *MultiplayerSync) CategorySelected(sessionRef string, category domain.CategoryRef) {
	m.emit(EventModeCategory, CategoryPayload{SessionRef: sessionRef, Category: category})
}

// SubjectsConfirmed implements TransitionNotifier.
func (m *MultiplayerSync) SubjectsConfirmed(sessionRef string, subjects []domain.Subject) {
	m.emit(EventModeSubjects, SubjectsPayload{SessionRef: sessionRef, Subjects: subjects})
}

// TopicsFetched implements TransitionNotifier; only host sessions reach it.
func (m *MultiplayerSync) TopicsFetched(sessionRef string, bank domain.QuestionBank, subjects []domain.Subject) {
	m.emit(EventModeTopics, TopicsPayload{SessionRef: sessionRef, QuizData: bank, Subjects: subjects})
}

// LobbyLeft implements TransitionNotifier: quitting a pending lobby rejects
// the invite so peers drop the stale participant.
func (m *MultiplayerSync) LobbyLeft(sessionRef string) {
	m.emit(EventInviteResponse, InviteResponsePayload{
		SessionRef: sessionRef,
		UserID:     m.session.UserID(),
		Status:     domain.InviteRejected,
	})
}

func (m *MultiplayerSync) emit(event string, payload any) {
	if err := m.channel.Emit(event, payload); err != nil {
		log.Printf("realtime emit %s failed: %v", event, err)
	}
}
