package web

import (
	"net/http"
	"time"

	"blanks/internal/match"
)

// event is one websocket frame pushed to a client. Either Status or Chat
// is set, never both.
type event struct {
	Status *statusResponse     `json:"status,omitempty"`
	Chat   []match.ChatMessage `json:"chat,omitempty"`
}

// handleEvents upgrades the connection and pushes status and chat updates
// until the client goes away. Polling GET /api/status and GET /api/chat
// gives the same data; this just saves the round trips.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(r)
	if sess == nil {
		s.fail(w, http.StatusForbidden, "not logged in")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Drain reads so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	chatOffset := 0
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		s.registry.Housekeeping()

		m := s.registry.MatchOfParticipant(sess.PlayerID)
		if m == nil {
			// Not in a match; keep the connection idle until they join.
			continue
		}
		p := m.Participant(sess.PlayerID)
		if p == nil {
			continue
		}
		p.Refresh(s.cfg.Game.ParticipantRefresh())

		st := s.statusOf(m, p)
		if err := conn.WriteJSON(event{Status: &st}); err != nil {
			return
		}

		if msgs := m.RetrieveChat(chatOffset); len(msgs) > 0 {
			chatOffset = msgs[len(msgs)-1].ID + 1
			if err := conn.WriteJSON(event{Chat: msgs}); err != nil {
				return
			}
		}
	}
}
