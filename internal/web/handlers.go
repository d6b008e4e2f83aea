package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"blanks/internal/match"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// session resolves the caller's session or rejects the request.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *Session {
	sess := s.sessions.Get(r)
	if sess == nil {
		s.fail(w, http.StatusForbidden, "not logged in")
	}
	return sess
}

// matchOf resolves the caller's match and participant, refreshing the
// participant's timeout. Any request on behalf of a participant counts as
// a sign of life.
func (s *Server) matchOf(w http.ResponseWriter, sess *Session) (*match.Match, *match.Participant) {
	m := s.registry.MatchOfParticipant(sess.PlayerID)
	if m == nil {
		s.fail(w, http.StatusForbidden, "not in match")
		return nil, nil
	}
	p := m.Participant(sess.PlayerID)
	if p == nil {
		s.fail(w, http.StatusForbidden, "not in match")
		return nil, nil
	}
	p.Refresh(s.cfg.Game.ParticipantRefresh())
	return m, p
}

func intParam(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.FormValue(name))
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	nick := r.FormValue("nickname")
	if len(nick) == 0 || len(nick) > 32 {
		s.fail(w, http.StatusBadRequest, "invalid nickname")
		return
	}
	sess := s.sessions.Create(w, nick)
	s.writeJSON(w, http.StatusOK, map[string]string{"id": sess.PlayerID, "nickname": sess.Nickname})
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if s.registry.MatchOfParticipant(sess.PlayerID) != nil {
		s.fail(w, http.StatusForbidden, "already in match")
		return
	}

	m, reason := s.registry.CreateMatch(r.FormValue("deck"))
	if m == nil {
		s.fail(w, http.StatusBadRequest, string(reason))
		return
	}

	p := match.NewParticipant(sess.PlayerID, sess.Nickname, false, s.clock, s.cfg.Game.ParticipantRefresh())
	if err := m.AddParticipant(p); err != nil {
		s.registry.Remove(m.ID)
		s.fail(w, http.StatusForbidden, "can not join")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"id": m.ID, "reason": reason})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if s.registry.MatchOfParticipant(sess.PlayerID) != nil {
		s.fail(w, http.StatusForbidden, "already in match")
		return
	}

	id, ok := intParam(r, "id")
	if !ok {
		s.fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	m := s.registry.ByID(id)
	if m == nil {
		s.fail(w, http.StatusForbidden, "invalid match")
		return
	}

	spectator := r.FormValue("spectator") == "true"
	p := match.NewParticipant(sess.PlayerID, sess.Nickname, spectator, s.clock, s.cfg.Game.ParticipantRefresh())
	if err := m.AddParticipant(p); err != nil {
		s.fail(w, http.StatusForbidden, "can not join")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}
	m.AbandonParticipant(p.ID())
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}
	if p.Spectator() {
		s.fail(w, http.StatusForbidden, "illegal action for spectator")
		return
	}
	if !m.IsChoosing() || p.Picking() {
		s.fail(w, http.StatusForbidden, "not allowed to choose")
		return
	}

	handID, ok := intParam(r, "handId")
	if !ok {
		s.fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	p.ToggleChosen(handID, m.CountGaps())
	m.CheckChoosingDone()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}
	if p.Spectator() {
		s.fail(w, http.StatusForbidden, "illegal action for spectator")
		return
	}
	if !m.IsPicking() || !p.Picking() {
		s.fail(w, http.StatusForbidden, "not allowed to pick")
		return
	}

	order, ok := intParam(r, "playedId")
	if !ok {
		s.fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	m.DeclareRoundWinner(order)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}
	if !m.CanSkipPhase(p) {
		s.fail(w, http.StatusForbidden, "not authorized to skip phase")
		return
	}
	m.SkipPhase()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}

	if !sess.AllowChat(s.clock.Now()) {
		s.fail(w, http.StatusForbidden, "spam rejected")
		return
	}

	msg := r.FormValue("message")
	if len(msg) == 0 || len(msg) >= 200 {
		s.fail(w, http.StatusForbidden, "invalid size")
		return
	}
	m.SendMessage(p, msg)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, _ := s.matchOf(w, sess)
	if m == nil {
		return
	}

	offset := 0
	if v := r.FormValue("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	msgs := m.RetrieveChat(offset)
	if msgs == nil {
		msgs = []match.ChatMessage{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

type statusResponse struct {
	Timer       int    `json:"timer"`
	Status      string `json:"status"`
	Ending      bool   `json:"ending"`
	HasCard     bool   `json:"hasCard"`
	CardText    string `json:"cardText,omitempty"`
	AllowChoose bool   `json:"allowChoose"`
	AllowPick   bool   `json:"allowPick"`
	IsSpectator bool   `json:"isSpectator"`
	IsPicker    bool   `json:"isPicker"`
	Gaps        int    `json:"gaps"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, s.statusOf(m, p))
}

func (s *Server) statusOf(m *match.Match, p *match.Participant) statusResponse {
	resp := statusResponse{
		Timer:       m.SecondsToNextPhase(),
		Status:      m.Status(),
		Ending:      m.IsEnding(),
		HasCard:     m.HasCard(),
		AllowChoose: m.IsChoosing() && !p.Picking() && !p.Spectator(),
		AllowPick:   m.IsPicking() && p.Picking() && !p.Spectator(),
		IsSpectator: p.Spectator(),
		IsPicker:    p.Picking(),
		Gaps:        m.CountGaps(),
	}
	if c := m.CurrentCard(); c != nil {
		resp.CardText = c.Text
	}
	return resp
}

type cardsResponse struct {
	Hand   map[string][]match.HandView `json:"hand,omitempty"`
	Played [][]*match.ChosenCard       `json:"played"`
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, p := s.matchOf(w, sess)
	if m == nil {
		return
	}

	resp := cardsResponse{Played: [][]*match.ChosenCard{}}

	if !p.Spectator() {
		hand := make(map[string][]match.HandView)
		for _, v := range p.Hand() {
			hand[v.Type] = append(hand[v.Type], v)
		}
		resp.Hand = hand
	}

	// If orders change mid-read this can be momentarily inconsistent;
	// clients poll often enough that it corrects itself.
	canView := m.CanViewChoices()
	for _, other := range m.Players() {
		redacted := !canView && other != p
		order := other.Order()
		for len(resp.Played) <= order {
			resp.Played = append(resp.Played, []*match.ChosenCard{})
		}
		resp.Played[order] = other.ChooseData(redacted)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type participantView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Picking   bool   `json:"picking"`
	Spectator bool   `json:"spectator"`
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	m, _ := s.matchOf(w, sess)
	if m == nil {
		return
	}

	out := []participantView{}
	for _, p := range m.Participants() {
		out = append(out, participantView{
			ID:        p.ID(),
			Name:      p.Nickname(),
			Score:     p.Score(),
			Picking:   p.Picking(),
			Spectator: p.Spectator(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if sess := s.session(w, r); sess == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	if sess := s.session(w, r); sess == nil {
		return
	}
	s.registry.Freeze()
	s.logger.Warn("match timers frozen")
	s.writeJSON(w, http.StatusOK, map[string]bool{"frozen": true})
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	if sess := s.session(w, r); sess == nil {
		return
	}
	s.registry.Unfreeze()
	s.logger.Warn("match timers unfrozen")
	s.writeJSON(w, http.StatusOK, map[string]bool{"frozen": false})
}
