package match

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"blanks/internal/config"
	"blanks/internal/deck"
)

// ErrCannotJoin signals that a participant cannot be added to a match in
// its current phase.
var ErrCannotJoin = errors.New("match: joining is not possible right now")

// Match drives one live game: it owns the deck, the per-type dealers, the
// participants and the chat transcript, and advances its state machine
// whenever a caller touches it after a deadline has passed. There is no
// scheduler goroutine; an idle match sits past its deadline until the next
// housekeeping pass reaches it.
//
// Lock order: the match lock may acquire participant locks while held.
// The registry's pool lock and the multideck locks are leaves.
type Match struct {
	ID int

	registry *Registry
	clock    quartz.Clock
	rng      *rand.Rand
	logger   *log.Logger
	cfg      config.Game

	state    atomic.Int32 // State; single-word reads are lock-free
	deadline atomic.Int64 // unix milliseconds
	card     atomic.Pointer[deck.Card]

	mu           sync.Mutex
	deck         *deck.Deck
	multidecks   map[deck.CardType]*deck.MultiDeck
	participants []*Participant
	chat         []ChatMessage
}

func newMatch(id int, d *deck.Deck, r *Registry, rng *rand.Rand) *Match {
	m := &Match{
		ID:         id,
		registry:   r,
		clock:      r.clock,
		rng:        rng,
		logger:     r.logger.With("match", id),
		cfg:        r.cfg,
		deck:       d,
		multidecks: d.MultiDecks(rng),
	}
	m.deadline.Store(m.clock.Now().Add(m.cfg.PendingTimer()).UnixMilli())
	m.chat = append(m.chat, ChatMessage{ID: 0, Kind: ChatSystem, Message: "Match was created."})
	return m
}

// State returns the current phase. Lock-free single-word read.
func (m *Match) State() State {
	return State(m.state.Load())
}

// IsEnding reports whether the match is in its terminal phase.
func (m *Match) IsEnding() bool { return m.State() == StateEnding }

// IsChoosing reports whether players may currently submit cards.
func (m *Match) IsChoosing() bool { return m.State() == StateChoosing }

// IsPicking reports whether the picker may currently declare a winner.
func (m *Match) IsPicking() bool { return m.State() == StatePicking }

// CanJoin reports whether regular players may join right now. Spectators
// may join in additional phases, which AddParticipant handles itself.
func (m *Match) CanJoin() bool {
	s := m.State()
	return s == StatePending || s == StateCooldown
}

// CanViewChoices reports whether submissions are revealed. The rule is
// tied to the match phase, not to "everyone finished choosing", so clients
// polling at different times may briefly disagree; kept as-is pending
// product review.
func (m *Match) CanViewChoices() bool {
	s := m.State()
	return s == StatePicking || s == StateCooldown || s == StateEnding
}

// HasCard reports whether a statement card is selected.
func (m *Match) HasCard() bool { return m.card.Load() != nil }

// CurrentCard returns the selected statement card, or nil.
func (m *Match) CurrentCard() *deck.Card { return m.card.Load() }

// CountGaps returns the gap count of the current statement card, at least
// one even when no card is selected yet.
func (m *Match) CountGaps() int {
	c := m.card.Load()
	if c == nil {
		return 1
	}
	if g := c.Gaps(); g > 1 {
		return g
	}
	return 1
}

// SecondsToNextPhase returns the remaining time before the deadline, in
// whole seconds. May be negative once the deadline has passed. Lock-free.
func (m *Match) SecondsToNextPhase() int {
	return int((m.deadline.Load() - m.clock.Now().UnixMilli()) / 1000)
}

// Status returns the human-facing status line for the current phase.
func (m *Match) Status() string {
	switch m.State() {
	case StatePending:
		return "Waiting for players..."
	case StateChoosing:
		return "Players are choosing cards..."
	case StateCooldown:
		return "The next round is about to start..."
	case StateEnding:
		return "The match is ending..."
	}

	picker := "<unknown>"
	m.mu.Lock()
	for _, p := range m.participants {
		if p.Picking() {
			picker = p.Nickname()
			break
		}
	}
	m.mu.Unlock()
	return fmt.Sprintf("%s is picking a winner...", picker)
}

// OwnerNickname returns the nickname of the first player, who owns the
// match.
func (m *Match) OwnerNickname() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownerLocked()
}

func (m *Match) ownerLocked() string {
	for _, p := range m.participants {
		if !p.Spectator() {
			return p.Nickname()
		}
	}
	return "<unknown>"
}

// HasParticipant checks membership by participant id.
func (m *Match) HasParticipant(pid string) bool {
	return m.Participant(pid) != nil
}

// Participant returns the participant with the given id, or nil.
func (m *Match) Participant(pid string) *Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ID() == pid {
			return p
		}
	}
	return nil
}

// Participants returns a snapshot of all participants in join order.
func (m *Match) Participants() []*Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Participant, len(m.participants))
	copy(out, m.participants)
	return out
}

// Players returns a snapshot of the non-spectator participants.
func (m *Match) Players() []*Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playersLocked()
}

func (m *Match) playersLocked() []*Participant {
	out := make([]*Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if !p.Spectator() {
			out = append(out, p)
		}
	}
	return out
}

// NumParticipants returns the participant count, including spectators.
func (m *Match) NumParticipants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants)
}

// NumPlayers returns the non-spectator participant count.
func (m *Match) NumPlayers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.playersLocked())
}

// AddParticipant adds a participant. Players may only join while the match
// is pending or cooling down; spectators may join at any time before the
// match ends. An early join pushes the pending deadline out.
func (m *Match) AddParticipant(p *Participant) error {
	if !m.CanJoin() && !p.Spectator() {
		return ErrCannotJoin
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = append(m.participants, p)
	if p.Spectator() {
		m.appendSystemLocked("%s is now spectating.", p.Nickname())
	} else {
		m.appendSystemLocked("%s joined.", p.Nickname())
	}

	if m.State() == StatePending {
		now := m.clock.Now()
		bonus := m.cfg.JoinBonusTimer()
		if m.deadline.Load()-now.UnixMilli() < bonus.Milliseconds() {
			m.deadline.Store(now.Add(bonus).UnixMilli())
		}
	}
	return nil
}

// AbandonParticipant removes the participant and hands off picking if
// necessary. Unknown ids are a no-op.
func (m *Match) AbandonParticipant(pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandonLocked(pid, "left.")
}

func (m *Match) abandonLocked(pid, message string) {
	idx := -1
	for i, p := range m.participants {
		if p.ID() == pid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p := m.participants[idx]
	m.appendSystemLocked("%s %s", p.Nickname(), message)
	wasPicking := p.Picking()
	m.participants = append(m.participants[:idx], m.participants[idx+1:]...)
	if wasPicking {
		m.pickerLeftLocked(idx)
	}
}

// pickerLeftLocked hands picking to the next player in iteration order,
// wrapping to the first, and aborts the round if it was in progress. The
// departed picker has already been removed; idx is where they sat.
func (m *Match) pickerLeftLocked(idx int) {
	players := m.playersLocked()
	if len(players) == 0 {
		return
	}

	next := players[0]
	for _, p := range m.participants[idx:] {
		if !p.Spectator() {
			next = p
			break
		}
	}
	next.setPicking(true)

	if s := m.State(); s == StateChoosing || s == StatePicking {
		m.setStateLocked(StateCooldown)
		m.appendSystemLocked("The picker left!")
	}
}

// CheckParticipants expires participants whose timeout deadline passed.
func (m *Match) CheckParticipants() {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]*Participant, len(m.participants))
	copy(snapshot, m.participants)
	for _, p := range snapshot {
		if p.TimedOut() {
			m.abandonLocked(p.ID(), "timed out.")
		}
	}
}

// CheckTimer advances the state machine when the deadline has passed. It
// is invoked opportunistically by housekeeping, never by a timer thread,
// so transitions can run late by up to one housekeeping interval.
func (m *Match) CheckTimer() {
	now := m.clock.Now()

	if m.registry.Frozen() {
		// Freeze the countdown at 59:59 without touching the state.
		m.deadline.Store(now.Add(59 * 61 * time.Second).UnixMilli())
	} else if m.deadline.Load()-now.UnixMilli() > (59 * time.Minute).Milliseconds() {
		// Coming out of a freeze; restart at 00:30.
		m.mu.Lock()
		m.deadline.Store(now.Add(30 * time.Second).UnixMilli())
		m.mu.Unlock()
	}

	nPlayers := m.NumPlayers()

	// A pending match close to expiry without enough players gets its
	// timer restarted instead of starting under-populated.
	m.mu.Lock()
	if m.State() == StatePending && nPlayers < m.cfg.MinPlayers {
		if m.deadline.Load()-now.UnixMilli() < m.cfg.PendingRefresh().Milliseconds() {
			m.deadline.Store(now.Add(m.cfg.PendingTimer()).UnixMilli())
			m.appendSystemLocked("There are not enough players, the timer has been restarted!")
		}
	}
	m.mu.Unlock()

	// A running match that lost too many players winds down.
	m.mu.Lock()
	if s := m.State(); nPlayers < m.cfg.MinPlayers && s != StatePending && s != StateEnding {
		m.setStateLocked(StateEnding)
	}
	m.mu.Unlock()

	remove := false
	m.mu.Lock()
	if now.UnixMilli() >= m.deadline.Load() {
		switch m.State() {
		case StatePending:
			if nPlayers >= m.cfg.MinPlayers {
				m.setStateLocked(StateChoosing)
			} else {
				m.deadline.Store(now.Add(m.cfg.PendingTimer()).UnixMilli())
				m.appendSystemLocked("There are not enough players, the timer has been restarted!")
			}
		case StateChoosing:
			m.setStateLocked(StatePicking)
		case StatePicking:
			// The picker slept through the round.
			for _, p := range m.playersLocked() {
				if p.Picking() {
					p.IncreaseAFK()
					break
				}
			}
			m.appendSystemLocked("No winner was picked!")
			m.setStateLocked(StateCooldown)
		case StateCooldown:
			m.setStateLocked(StateChoosing)
		case StateEnding:
			remove = true
		}
	}
	m.mu.Unlock()

	// Removal is idempotent; the match may already be gone.
	if remove {
		m.registry.Remove(m.ID)
	}
}

// setStateLocked runs the transition hooks around a state change. Caller
// holds m.mu.
func (m *Match) setStateLocked(s State) {
	m.leaveStateLocked()
	m.state.Store(int32(s))
	m.enterStateLocked()
}

func (m *Match) leaveStateLocked() {
	if m.State() == StateCooldown {
		// Played cards are consumed. Wild cards go back into circulation
		// so they can be drawn again.
		wilds := m.multidecks[deck.Wild]
		for _, p := range m.playersLocked() {
			for _, c := range p.DeleteChosen() {
				if c.Type == deck.Wild && wilds != nil {
					wilds.PutBack(c)
				}
			}
		}
	}
}

func (m *Match) enterStateLocked() {
	now := m.clock.Now()
	switch m.State() {
	case StateChoosing:
		m.selectNextPickerLocked()
		m.shuffleOrdersLocked()
		m.selectMatchCardLocked()
		for _, p := range m.playersLocked() {
			p.ReplenishHand(m.multidecks, m.cfg.HandQuota)
		}
		m.deadline.Store(now.Add(m.cfg.ChoosingTimer()).UnixMilli())

	case StatePicking:
		m.unchooseIncompleteLocked()
		m.updateAFKLocked()

		if !m.pickPossibleLocked() {
			m.appendSystemLocked("Too few valid choices!")
			// The round is skipped; hands stay intact.
			for _, p := range m.playersLocked() {
				p.UnchooseAll()
			}
			m.setStateLocked(StateCooldown)
			return
		}

		d := m.cfg.PickingTimer() + time.Duration(len(m.playersLocked()))*m.cfg.PickingBonus()
		m.deadline.Store(now.Add(d).UnixMilli())

	case StateCooldown:
		m.deadline.Store(now.Add(m.cfg.CooldownTimer()).UnixMilli())
		for _, p := range m.playersLocked() {
			if p.AFKCount() >= m.cfg.AFKLimit {
				m.abandonLocked(p.ID(), "was kicked for being AFK for two rounds.")
			}
		}

	case StateEnding:
		m.deadline.Store(now.Add(m.cfg.EndingTimer()).UnixMilli())
	}
}

// updateAFKLocked advances the inactivity bookkeeping when picking starts:
// everyone who submitted is active again, everyone else (except the
// picker) idled one more round. Players hitting the limit are kicked.
func (m *Match) updateAFKLocked() {
	var kick []*Participant
	for _, p := range m.playersLocked() {
		switch {
		case p.ChooseCount() > 0:
			p.ResetAFK()
		case !p.Picking():
			p.IncreaseAFK()
			if p.AFKCount() >= m.cfg.AFKLimit {
				kick = append(kick, p)
			}
		}
	}
	for _, p := range kick {
		m.abandonLocked(p.ID(), "was kicked for being AFK for two rounds.")
	}
}

// pickPossibleLocked reports whether at least two submissions exist.
func (m *Match) pickPossibleLocked() bool {
	n := 0
	for _, p := range m.playersLocked() {
		if p.ChooseCount() > 0 {
			n++
		}
	}
	return n >= 2
}

// unchooseIncompleteLocked resets hands with fewer chosen cards than the
// statement needs, keeping the cards themselves.
func (m *Match) unchooseIncompleteLocked() {
	gaps := m.CountGaps()
	for _, p := range m.playersLocked() {
		if p.Picking() {
			continue
		}
		if p.ChooseCount() < gaps {
			p.UnchooseAll()
			m.appendSystemLocked("%s failed to choose cards!", p.Nickname())
		}
	}
}

// selectMatchCardLocked draws a statement card distinct from the previous
// one.
func (m *Match) selectMatchCardLocked() {
	banned := make(map[int]struct{}, 1)
	if c := m.card.Load(); c != nil {
		banned[c.ID] = struct{}{}
	}
	m.card.Store(m.multidecks[deck.Statement].Request(banned))
}

// shuffleOrdersLocked assigns a fresh random permutation 1..N to the
// players so clients can reference submissions without learning whose
// they are.
func (m *Match) shuffleOrdersLocked() {
	players := m.playersLocked()
	order := m.rng.Perm(len(players))
	for i, p := range players {
		p.setOrder(order[i] + 1)
	}
}

// selectNextPickerLocked rotates picking to the player after the current
// picker, defaulting to the first player when no one was picking.
func (m *Match) selectNextPickerLocked() {
	players := m.playersLocked()
	if len(players) == 0 {
		return
	}
	next := false
	for _, p := range players {
		if next {
			p.setPicking(true)
			return
		}
		if p.Picking() {
			p.setPicking(false)
			next = true
		}
	}
	players[0].setPicking(true)
}

// DeclareRoundWinner awards the round to the non-picking player whose
// order matches and whose submission is complete. Stale or invalid orders
// are a no-op. The losers' played cards are consumed immediately; the
// round then cools down, or the match ends when the winner reached the
// score threshold.
func (m *Match) DeclareRoundWinner(order int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gaps := m.CountGaps()
	var winner *Participant
	for _, p := range m.playersLocked() {
		if p.Picking() {
			p.ResetAFK()
			continue
		}
		if p.ChooseCount() < gaps {
			continue
		}
		if p.Order() == order {
			winner = p
			break
		}
	}
	if winner == nil {
		return
	}

	for _, p := range m.playersLocked() {
		if p != winner {
			p.DeleteChosen()
		}
	}

	winner.IncreaseScore()
	m.appendSystemLocked("%s won the round!", winner.Nickname())
	if winner.Score() >= m.cfg.WinCondition {
		m.appendSystemLocked("Game over!")
		m.appendSystemLocked("%s won the game!", winner.Nickname())
		m.setStateLocked(StateEnding)
	} else {
		m.setStateLocked(StateCooldown)
	}
}

// CheckChoosingDone shortens the choosing timer once every submission is
// complete, so a finished round ends promptly.
func (m *Match) CheckChoosingDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	gaps := m.CountGaps()
	for _, p := range m.playersLocked() {
		if !p.Picking() && p.ChooseCount() != gaps {
			return
		}
	}

	now := m.clock.Now()
	finish := m.cfg.ChoosingFinish()
	if m.deadline.Load()-now.UnixMilli() > finish.Milliseconds() {
		m.deadline.Store(now.Add(finish).UnixMilli())
	}
}

// CanSkipPhase reports whether the participant may cut the current phase
// short. Only the owner may, with enough players, while the match is not
// ending.
func (m *Match) CanSkipPhase(p *Participant) bool {
	if m.IsEnding() {
		return false
	}
	if m.NumParticipants() < m.cfg.MinPlayers {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.participants {
		if !q.Spectator() {
			return q == p
		}
	}
	return false
}

// SkipPhase expires the current phase timer. The one-second floor avoids
// racing a transition that is about to happen anyway.
func (m *Match) SkipPhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if m.deadline.Load()-now.UnixMilli() > 1000 {
		m.deadline.Store(now.UnixMilli())
		m.appendSystemLocked("%s skipped to the next phase.", m.ownerLocked())
	}
}

// SendMessage appends a player message to the transcript. Talking counts
// as activity.
func (m *Match) SendMessage(p *Participant, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat = append(m.chat, ChatMessage{
		ID:      len(m.chat),
		Kind:    ChatUser,
		Message: fmt.Sprintf("%s: %s", p.Nickname(), msg),
	})
	p.ResetAFK()
}

// AppendSystem adds an engine notice to the transcript.
func (m *Match) AppendSystem(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendSystemLocked(format, args...)
}

func (m *Match) appendSystemLocked(format string, args ...any) {
	m.chat = append(m.chat, ChatMessage{
		ID:      len(m.chat),
		Kind:    ChatSystem,
		Message: fmt.Sprintf(format, args...),
	})
}

// RetrieveChat returns the transcript entries at or after offset. The
// transcript only grows, so a later call never returns fewer entries.
func (m *Match) RetrieveChat(offset int) []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.chat) {
		return nil
	}
	out := make([]ChatMessage, len(m.chat)-offset)
	copy(out, m.chat[offset:])
	return out
}
