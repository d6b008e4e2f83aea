package match

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"blanks/internal/deck"
)

// HandCard is a card dealt to a participant together with its choice slot.
// Chosen is the 0-based submission slot, or -1 while the card is not part
// of the participant's answer.
type HandCard struct {
	Card   *deck.Card
	Chosen int
}

// HandView is the exported snapshot of one hand card.
type HandView struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	Chosen *int   `json:"chosen"`
}

// ChosenCard is one slot of a participant's submission. Redacted entries
// hide the card until the reveal phase.
type ChosenCard struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Redacted bool   `json:"redacted,omitempty"`
}

// Participant is one player (or spectator) in a match.
//
// The participant's mutex is a leaf lock: no other lock is acquired while
// it is held. A match may lock its participants while holding its own
// lock, never the other way around.
type Participant struct {
	id        string
	nickname  string
	spectator bool

	clock    quartz.Clock
	deadline atomic.Int64 // timeout deadline, unix milliseconds

	mu      sync.Mutex
	score   int
	picking bool
	order   int
	afk     int
	hand    map[int]*HandCard
	handIDs []int // insertion order of hand card ids
	handSeq int
}

// NewParticipant creates a participant with a running timeout timer.
func NewParticipant(id, nickname string, spectator bool, clock quartz.Clock, timeout time.Duration) *Participant {
	p := &Participant{
		id:        id,
		nickname:  nickname,
		spectator: spectator,
		clock:     clock,
		hand:      make(map[int]*HandCard),
		handSeq:   1,
	}
	p.deadline.Store(clock.Now().Add(timeout).UnixMilli())
	return p
}

func (p *Participant) ID() string       { return p.id }
func (p *Participant) Nickname() string { return p.nickname }
func (p *Participant) Spectator() bool  { return p.spectator }

// Refresh pushes the timeout deadline out again. Called on every request
// the participant makes.
func (p *Participant) Refresh(timeout time.Duration) {
	p.deadline.Store(p.clock.Now().Add(timeout).UnixMilli())
}

// TimedOut reports whether the participant's timeout deadline has passed.
// Lock-free: the deadline is a single atomic word.
func (p *Participant) TimedOut() bool {
	return p.clock.Now().UnixMilli() >= p.deadline.Load()
}

// Score returns the participant's current score.
func (p *Participant) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// IncreaseScore awards one point. Spectators cannot score; a call for a
// spectator is a bug in the calling layer.
func (p *Participant) IncreaseScore() {
	if p.spectator {
		panic("match: increasing score for spectator")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.score++
}

// Picking reports whether the participant picks this round's winner.
func (p *Participant) Picking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.picking
}

func (p *Participant) setPicking(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.picking = v
}

// Order returns the participant's rotation-proof round handle.
func (p *Participant) Order() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order
}

func (p *Participant) setOrder(order int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = order
}

// AFKCount returns the number of consecutive rounds spent inactive.
func (p *Participant) AFKCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.afk
}

// IncreaseAFK counts one more inactive round.
func (p *Participant) IncreaseAFK() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afk++
}

// ResetAFK clears the inactivity counter.
func (p *Participant) ResetAFK() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afk = 0
}

// UnchooseAll clears every choice marker without removing cards. Used when
// a round is skipped.
func (p *Participant) UnchooseAll() {
	p.mustPlay("unchoose")
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hc := range p.hand {
		hc.Chosen = -1
	}
}

// DeleteChosen removes every chosen hand card and returns the consumed
// cards so the match can put played wild cards back in circulation.
func (p *Participant) DeleteChosen() []*deck.Card {
	p.mustPlay("delete chosen")
	p.mu.Lock()
	defer p.mu.Unlock()

	var consumed []*deck.Card
	kept := p.handIDs[:0]
	for _, hid := range p.handIDs {
		hc := p.hand[hid]
		if hc.Chosen >= 0 {
			consumed = append(consumed, hc.Card)
			delete(p.hand, hid)
			continue
		}
		kept = append(kept, hid)
	}
	p.handIDs = kept
	return consumed
}

// ChooseCount returns the number of chosen hand cards.
func (p *Participant) ChooseCount() int {
	p.mustPlay("count choices")
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hc := range p.hand {
		if hc.Chosen >= 0 {
			n++
		}
	}
	return n
}

// ToggleChosen flips the chosen state of one hand card. Choosing assigns
// the next free slot, capped at allowance. Unchoosing also clears every
// card in a slot at or above the target's so the occupied slots always
// run contiguously from zero.
func (p *Participant) ToggleChosen(handID, allowance int) {
	p.mustPlay("toggle")
	p.mu.Lock()
	defer p.mu.Unlock()

	next := 0
	chosen := 0
	for _, hc := range p.hand {
		if hc.Chosen >= 0 {
			chosen++
			if hc.Chosen+1 > next {
				next = hc.Chosen + 1
			}
		}
	}

	hc, ok := p.hand[handID]
	if !ok {
		// Stale hand card id, ignore.
		return
	}
	if hc.Chosen < 0 {
		if chosen >= allowance {
			return
		}
		hc.Chosen = next
		return
	}
	floor := hc.Chosen
	for _, other := range p.hand {
		if other.Chosen >= floor {
			other.Chosen = -1
		}
	}
}

// ReplenishHand fills the hand back up to the per-type quota for every
// answer card type, mixing in wild draws weighted by the number of draws
// still outstanding. Wild cards ride on top of the type quotas and are
// excluded from further wild draws while they stay in the hand.
func (p *Participant) ReplenishHand(mdecks map[deck.CardType]*deck.MultiDeck, quota int) {
	p.mustPlay("replenish")
	p.mu.Lock()
	defer p.mu.Unlock()

	wilds := mdecks[deck.Wild]
	bannedWilds := p.bannedIDs(deck.Wild)

	types := []deck.CardType{deck.Object, deck.Verb}
	cardsLeft := 0
	for _, t := range types {
		if mdecks[t] == nil {
			continue
		}
		if missing := quota - len(p.bannedIDs(t)); missing > 0 {
			cardsLeft += missing
		}
	}

	for _, t := range types {
		md := mdecks[t]
		if md == nil {
			continue
		}
		banned := p.bannedIDs(t)
		for need := quota - len(banned); need > 0; {
			c := md.RequestMixed(banned, wilds, cardsLeft, bannedWilds)
			if c == nil {
				break
			}
			p.hand[p.handSeq] = &HandCard{Card: c, Chosen: -1}
			p.handIDs = append(p.handIDs, p.handSeq)
			p.handSeq++
			if c.Type == deck.Wild {
				// Bonus card; the per-type slot is still open.
				bannedWilds[c.ID] = struct{}{}
				continue
			}
			banned[c.ID] = struct{}{}
			need--
			if cardsLeft > 0 {
				cardsLeft--
			}
		}
	}
}

// ChooseData exposes the chosen cards indexed by slot, redacted when the
// viewer is not yet allowed to see them.
func (p *Participant) ChooseData(redacted bool) []*ChosenCard {
	p.mustPlay("read choices")
	p.mu.Lock()
	defer p.mu.Unlock()

	var data []*ChosenCard
	for _, hid := range p.handIDs {
		hc := p.hand[hid]
		if hc.Chosen < 0 {
			continue
		}
		for len(data) <= hc.Chosen {
			data = append(data, nil)
		}
		if redacted {
			data[hc.Chosen] = &ChosenCard{Redacted: true}
		} else {
			data[hc.Chosen] = &ChosenCard{Type: hc.Card.Type.String(), Text: hc.Card.Text}
		}
	}
	return data
}

// Hand returns a snapshot of the hand in deal order.
func (p *Participant) Hand() []HandView {
	p.mustPlay("read hand")
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]HandView, 0, len(p.handIDs))
	for _, hid := range p.handIDs {
		hc := p.hand[hid]
		v := HandView{ID: hid, Type: hc.Card.Type.String(), Text: hc.Card.Text}
		if hc.Chosen >= 0 {
			chosen := hc.Chosen
			v.Chosen = &chosen
		}
		views = append(views, v)
	}
	return views
}

// bannedIDs collects the ids of hand cards of the given type. Caller holds
// p.mu.
func (p *Participant) bannedIDs(t deck.CardType) map[int]struct{} {
	ids := make(map[int]struct{})
	for _, hc := range p.hand {
		if hc.Card.Type == t {
			ids[hc.Card.ID] = struct{}{}
		}
	}
	return ids
}

// mustPlay guards hand operations against spectator misuse, which is a
// programmer error in the calling layer.
func (p *Participant) mustPlay(op string) {
	if p.spectator {
		panic("match: " + op + " for spectator")
	}
}
