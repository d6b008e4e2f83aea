package match

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blanks/internal/config"
	"blanks/internal/deck"
)

// deckData builds a TSV upload with n playable cards of each type. Every
// statement card carries exactly one gap.
func deckData(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Statement %d with _\tSTATEMENT\n", i)
		fmt.Fprintf(&b, "Object %d\tOBJECT\n", i)
		fmt.Fprintf(&b, "Verb %d\tVERB\n", i)
	}
	return b.String()
}

func newTestRegistry(t *testing.T, cfg config.Game) (*Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := log.New(io.Discard)
	return NewRegistry(logger, clock, cfg, 42), clock
}

func newTestMatch(t *testing.T, players int) (*Registry, *Match, []*Participant, *quartz.Mock) {
	t.Helper()
	cfg := config.Default().Game
	r, clock := newTestRegistry(t, cfg)

	m, reason := r.CreateMatch(deckData(12))
	require.NotNil(t, m)
	require.Equal(t, deck.ReasonOK, reason)

	ps := make([]*Participant, 0, players)
	for i := 0; i < players; i++ {
		p := NewParticipant(fmt.Sprintf("id%d", i), fmt.Sprintf("player%d", i), false, clock, cfg.ParticipantRefresh())
		require.NoError(t, m.AddParticipant(p))
		ps = append(ps, p)
	}
	return r, m, ps, clock
}

// startRound advances a pending match into its first choosing phase.
func startRound(t *testing.T, m *Match, clock *quartz.Mock) {
	t.Helper()
	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StateChoosing, m.State())
}

func pickerOf(t *testing.T, m *Match) *Participant {
	t.Helper()
	for _, p := range m.Players() {
		if p.Picking() {
			return p
		}
	}
	t.Fatal("no picker")
	return nil
}

func chatText(m *Match) string {
	var b strings.Builder
	for _, msg := range m.RetrieveChat(0) {
		b.WriteString(msg.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func TestMatchStartsPending(t *testing.T) {
	t.Parallel()

	_, m, _, _ := newTestMatch(t, 3)
	assert.Equal(t, StatePending, m.State())
	assert.True(t, m.CanJoin())
	assert.False(t, m.HasCard())
	assert.False(t, m.CanViewChoices())
	assert.Equal(t, "Waiting for players...", m.Status())
	assert.Equal(t, "player0", m.OwnerNickname())
}

func TestPendingAdvancesToChoosing(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	assert.True(t, m.HasCard())
	assert.Equal(t, 1, m.CountGaps())

	pickers := 0
	orders := map[int]struct{}{}
	for _, p := range ps {
		if p.Picking() {
			pickers++
		}
		orders[p.Order()] = struct{}{}
		assert.Len(t, p.Hand(), 12)
	}
	assert.Equal(t, 1, pickers)
	assert.Len(t, orders, 3, "orders must be distinct")
}

func TestPendingRefreshWithoutEnoughPlayers(t *testing.T) {
	t.Parallel()

	_, m, _, clock := newTestMatch(t, 2)

	clock.Advance(51 * time.Second)
	m.CheckTimer()

	assert.Equal(t, StatePending, m.State())
	assert.Greater(t, m.SecondsToNextPhase(), 50)
	assert.Contains(t, chatText(m), "not enough players")
}

func TestChoosingAdvancesToPicking(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
		}
	}

	clock.Advance(61 * time.Second)
	m.CheckTimer()

	require.Equal(t, StatePicking, m.State())
	assert.True(t, m.CanViewChoices())
	assert.False(t, m.CanJoin())

	// Picking gets a per-player time bonus on top of the base timer.
	assert.Equal(t, 60+3*7, m.SecondsToNextPhase())
}

func TestPickingSkippedWithoutEnoughChoices(t *testing.T) {
	t.Parallel()

	_, m, _, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	// Nobody submits anything.
	clock.Advance(61 * time.Second)
	m.CheckTimer()

	assert.Equal(t, StateCooldown, m.State())
	assert.Contains(t, chatText(m), "Too few valid choices!")
}

func TestIncompleteChoicesAreReset(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	var choosers []*Participant
	for _, p := range ps {
		if !p.Picking() {
			choosers = append(choosers, p)
		}
	}
	choosers[0].ToggleChosen(choosers[0].Hand()[0].ID, m.CountGaps())
	choosers[1].ToggleChosen(choosers[1].Hand()[0].ID, m.CountGaps())

	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StatePicking, m.State())

	// Both submissions were complete, nothing was reset.
	assert.NotContains(t, chatText(m), "failed to choose")
}

func TestPickingTimeoutMarksPickerAFK(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
		}
	}
	picker := pickerOf(t, m)

	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StatePicking, m.State())

	clock.Advance(90 * time.Second)
	m.CheckTimer()

	assert.Equal(t, StateCooldown, m.State())
	assert.Equal(t, 1, picker.AFKCount())
	assert.Contains(t, chatText(m), "No winner was picked!")
}

func TestDeclareRoundWinner(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
		}
	}
	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StatePicking, m.State())

	var winner, loser *Participant
	for _, p := range ps {
		if p.Picking() {
			continue
		}
		if winner == nil {
			winner = p
		} else {
			loser = p
		}
	}

	m.DeclareRoundWinner(winner.Order())

	assert.Equal(t, StateCooldown, m.State())
	assert.Equal(t, 1, winner.Score())
	assert.Equal(t, 0, loser.Score())
	assert.Contains(t, chatText(m), winner.Nickname()+" won the round!")

	// The loser's played card is consumed immediately; the winner's stays
	// on display until the cooldown ends.
	assert.Len(t, loser.Hand(), 11)
	assert.Len(t, winner.Hand(), 12)

	clock.Advance(16 * time.Second)
	m.CheckTimer()
	require.Equal(t, StateChoosing, m.State())
	assert.Equal(t, 12, len(winner.Hand()))
	assert.Equal(t, 12, len(loser.Hand()))
}

func TestDeclareRoundWinnerInvalidOrder(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
		}
	}
	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StatePicking, m.State())

	m.DeclareRoundWinner(-1)
	assert.Equal(t, StatePicking, m.State())
}

func TestWinConditionEndsMatch(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Game
	cfg.WinCondition = 1
	r, clock := newTestRegistry(t, cfg)
	m, _ := r.CreateMatch(deckData(12))
	require.NotNil(t, m)

	ps := make([]*Participant, 0, 3)
	for i := 0; i < 3; i++ {
		p := NewParticipant(fmt.Sprintf("id%d", i), fmt.Sprintf("player%d", i), false, clock, cfg.ParticipantRefresh())
		require.NoError(t, m.AddParticipant(p))
		ps = append(ps, p)
	}
	startRound(t, m, clock)

	var winner *Participant
	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
			winner = p
		}
	}
	clock.Advance(61 * time.Second)
	m.CheckTimer()
	require.Equal(t, StatePicking, m.State())

	m.DeclareRoundWinner(winner.Order())

	assert.Equal(t, StateEnding, m.State())
	assert.True(t, m.IsEnding())
	assert.Contains(t, chatText(m), "Game over!")
	assert.Contains(t, chatText(m), winner.Nickname()+" won the game!")

	// The ending timer expires and the match removes itself.
	clock.Advance(21 * time.Second)
	m.CheckTimer()
	assert.Nil(t, r.ByID(m.ID))
}

func TestCheckChoosingDoneShortensTimer(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	for _, p := range ps {
		if !p.Picking() {
			p.ToggleChosen(p.Hand()[0].ID, m.CountGaps())
		}
	}
	m.CheckChoosingDone()
	assert.LessOrEqual(t, m.SecondsToNextPhase(), 10)
}

func TestPickerLeavingAbortsRound(t *testing.T) {
	t.Parallel()

	_, m, _, clock := newTestMatch(t, 4)
	startRound(t, m, clock)

	picker := pickerOf(t, m)
	m.AbandonParticipant(picker.ID())

	assert.Equal(t, StateCooldown, m.State())
	assert.Contains(t, chatText(m), "The picker left!")
	assert.NotNil(t, pickerOf(t, m))
}

func TestBelowMinimumEndsRunningMatch(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	m.AbandonParticipant(ps[2].ID())
	m.CheckTimer()

	assert.Equal(t, StateEnding, m.State())
}

func TestJoinRules(t *testing.T) {
	t.Parallel()

	_, m, _, clock := newTestMatch(t, 3)
	startRound(t, m, clock)

	cfg := config.Default().Game
	late := NewParticipant("late", "late", false, clock, cfg.ParticipantRefresh())
	assert.ErrorIs(t, m.AddParticipant(late), ErrCannotJoin)

	spec := NewParticipant("spec", "spec", true, clock, cfg.ParticipantRefresh())
	assert.NoError(t, m.AddParticipant(spec))
	assert.Equal(t, 4, m.NumParticipants())
	assert.Equal(t, 3, m.NumPlayers())
}

func TestJoinBonusExtendsPendingDeadline(t *testing.T) {
	t.Parallel()

	_, m, _, clock := newTestMatch(t, 3)

	clock.Advance(45 * time.Second)
	require.Less(t, m.SecondsToNextPhase(), 30)

	cfg := config.Default().Game
	p := NewParticipant("id3", "player3", false, clock, cfg.ParticipantRefresh())
	require.NoError(t, m.AddParticipant(p))

	assert.Equal(t, 30, m.SecondsToNextPhase())
}

func TestSkipPhase(t *testing.T) {
	t.Parallel()

	_, m, ps, _ := newTestMatch(t, 3)

	assert.True(t, m.CanSkipPhase(ps[0]))
	assert.False(t, m.CanSkipPhase(ps[1]))

	m.SkipPhase()
	assert.LessOrEqual(t, m.SecondsToNextPhase(), 0)
	assert.Contains(t, chatText(m), "skipped to the next phase")
}

func TestFreezeHoldsTimers(t *testing.T) {
	t.Parallel()

	r, m, _, clock := newTestMatch(t, 2)

	r.Freeze()
	m.CheckTimer()
	assert.Greater(t, m.SecondsToNextPhase(), 3500)

	clock.Advance(10 * time.Minute)
	m.CheckTimer()
	assert.Equal(t, StatePending, m.State())

	r.Unfreeze()
	m.CheckTimer()
	assert.LessOrEqual(t, m.SecondsToNextPhase(), 30)
}

func TestParticipantTimeoutExpires(t *testing.T) {
	t.Parallel()

	_, m, ps, clock := newTestMatch(t, 3)

	clock.Advance(10 * time.Second)
	ps[0].Refresh(15 * time.Second)

	clock.Advance(6 * time.Second)
	m.CheckParticipants()

	assert.Equal(t, 1, m.NumParticipants())
	assert.NotNil(t, m.Participant(ps[0].ID()))
	assert.Contains(t, chatText(m), "timed out.")
}

func TestChatTranscript(t *testing.T) {
	t.Parallel()

	_, m, ps, _ := newTestMatch(t, 3)

	m.SendMessage(ps[0], "hello there")
	msgs := m.RetrieveChat(0)
	require.NotEmpty(t, msgs)

	last := msgs[len(msgs)-1]
	assert.Equal(t, ChatUser, last.Kind)
	assert.Equal(t, "player0: hello there", last.Message)

	// IDs are dense and ordered, offsets slice the tail.
	for i, msg := range msgs {
		assert.Equal(t, i, msg.ID)
	}
	tail := m.RetrieveChat(last.ID)
	require.Len(t, tail, 1)
	assert.Equal(t, last, tail[0])

	assert.Nil(t, m.RetrieveChat(last.ID+1))
}
