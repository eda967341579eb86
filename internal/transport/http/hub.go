package http

import (
	"fmt"
	"sync"
	"sync/atomic"

	"studyquiz-service/internal/app"
	"studyquiz-service/internal/domain"
)

// Outlet delivers one real-time event to a lobby member's connection.
type Outlet func(event string, payload any)

type lobby struct {
	id      string
	hostID  string
	invites []domain.Invite
	members map[string]Outlet
}

// LobbyHub is the server-authoritative side of the multiplayer real-time
// channel: it owns each lobby's invite list and fans events out to members.
// Peers never mutate each other's readiness directly; every change flows
// through the hub and comes back as a full session_snapshots replace.
type LobbyHub struct {
	mu      sync.Mutex
	seq     atomic.Uint64
	lobbies map[string]*lobby
}

func NewLobbyHub() *LobbyHub {
	return &LobbyHub{lobbies: make(map[string]*lobby)}
}

// Create opens a lobby with the host accepted and the invitees pending. The
// host's outlet immediately receives session_created.
func (h *LobbyHub) Create(hostUserID string, invitees []string, out Outlet) string {
	h.mu.Lock()
	id := fmt.Sprintf("lobby-%d", h.seq.Add(1))
	l := &lobby{
		id:      id,
		hostID:  hostUserID,
		invites: []domain.Invite{{UserID: hostUserID, Status: domain.InviteAccepted, IsReady: false}},
		members: map[string]Outlet{hostUserID: out},
	}
	for _, userID := range invitees {
		l.invites = append(l.invites, domain.Invite{UserID: userID, Status: domain.InvitePending})
	}
	h.lobbies[id] = l
	created := h.createdPayloadLocked(l)
	h.mu.Unlock()

	out(app.EventSessionCreated, created)
	return id
}

// Join registers an invited member's connection and replays lobby state to
// everyone.
func (h *LobbyHub) Join(lobbyID, userID string, out Outlet) error {
	h.mu.Lock()
	l, ok := h.lobbies[lobbyID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("lobby %s not found", lobbyID)
	}
	l.members[userID] = out
	created := h.createdPayloadLocked(l)
	h.mu.Unlock()

	out(app.EventSessionCreated, created)
	h.broadcastSnapshot(lobbyID)
	return nil
}

// SetReady flips a member's readiness and broadcasts the new snapshot.
func (h *LobbyHub) SetReady(lobbyID, userID string, ready bool) {
	h.mu.Lock()
	if l, ok := h.lobbies[lobbyID]; ok {
		for i := range l.invites {
			if l.invites[i].UserID == userID {
				l.invites[i].IsReady = ready
			}
		}
	}
	h.mu.Unlock()
	h.broadcastSnapshot(lobbyID)
}

// Respond records an invite response and broadcasts both the response and
// the resulting snapshot.
func (h *LobbyHub) Respond(lobbyID, userID string, status domain.InviteStatus) {
	h.mu.Lock()
	l, ok := h.lobbies[lobbyID]
	if ok {
		for i := range l.invites {
			if l.invites[i].UserID == userID {
				l.invites[i].Status = status
				l.invites[i].IsReady = false
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.fanOut(lobbyID, userID, app.EventInviteResponse, app.InviteResponsePayload{
		SessionRef: lobbyID,
		UserID:     userID,
		Status:     status,
	})
	h.broadcastSnapshot(lobbyID)
}

// Relay forwards a host/peer intent to the other members. mode_topics is
// rewritten to quiz_start so peers receive the host-generated bank without a
// fetch step of their own.
func (h *LobbyHub) Relay(lobbyID, fromUserID, event string, payload any) {
	switch event {
	case app.EventModeTopics:
		if topics, ok := payload.(app.TopicsPayload); ok {
			h.fanOut(lobbyID, fromUserID, app.EventQuizStart, app.QuizStartPayload{QBank: topics.QuizData})
			return
		}
	case app.EventInviteResponse:
		if resp, ok := payload.(app.InviteResponsePayload); ok {
			h.Respond(lobbyID, resp.UserID, resp.Status)
			return
		}
	}
	h.fanOut(lobbyID, fromUserID, event, payload)
}

// Leave drops a member and tells the remaining peers.
func (h *LobbyHub) Leave(lobbyID, userID string) {
	h.mu.Lock()
	l, ok := h.lobbies[lobbyID]
	if ok {
		delete(l.members, userID)
		kept := l.invites[:0]
		for _, inv := range l.invites {
			if inv.UserID != userID {
				kept = append(kept, inv)
			}
		}
		l.invites = kept
		if len(l.members) == 0 {
			delete(h.lobbies, lobbyID)
			ok = false
		}
	}
	h.mu.Unlock()
	if ok {
		h.broadcastSnapshot(lobbyID)
	}
}

// AllReady reports whether every accepted invite has signalled readiness.
func (h *LobbyHub) AllReady(lobbyID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lobbies[lobbyID]
	if !ok {
		return false
	}
	for _, inv := range l.invites {
		if inv.Status == domain.InviteAccepted && !inv.IsReady {
			return false
		}
	}
	return true
}

func (h *LobbyHub) createdPayloadLocked(l *lobby) app.SessionCreatedPayload {
	users := make([]domain.Invite, len(l.invites))
	copy(users, l.invites)
	return app.SessionCreatedPayload{SessionRef: l.id, HostUserID: l.hostID, Users: users}
}

func (h *LobbyHub) broadcastSnapshot(lobbyID string) {
	h.mu.Lock()
	l, ok := h.lobbies[lobbyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	users := make([]domain.Invite, len(l.invites))
	copy(users, l.invites)
	outlets := make([]Outlet, 0, len(l.members))
	for _, out := range l.members {
		outlets = append(outlets, out)
	}
	h.mu.Unlock()

	for _, out := range outlets {
		out(app.EventSessionSnapshots, app.SnapshotPayload{Users: users})
	}
}

func (h *LobbyHub) fanOut(lobbyID, fromUserID, event string, payload any) {
	h.mu.Lock()
	l, ok := h.lobbies[lobbyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	outlets := make([]Outlet, 0, len(l.members))
	for userID, out := range l.members {
		if userID != fromUserID {
			outlets = append(outlets, out)
		}
	}
	h.mu.Unlock()

	for _, out := range outlets {
		out(event, payload)
	}
}
