package deck

import (
	rand "math/rand/v2"
	"sync"
)

// MultiDeck deals cards of a single type in a randomized order without
// handing the same card to a caller twice. It keeps a shuffled working
// queue over the immutable backing list so a draw is O(1) in the typical
// case instead of reshuffling the whole deck, while any eligible card is
// still eventually delivered.
//
// The multideck's mutex is a leaf lock: no other lock is acquired while
// it is held.
type MultiDeck struct {
	mu      sync.Mutex
	rng     *rand.Rand
	backing []*Card
	queue   []*Card
	// ids currently staged in the queue
	contained map[int]struct{}
}

// NewMultiDeck builds a dealer over the given backing cards. The backing
// slice is never mutated.
func NewMultiDeck(backing []*Card, rng *rand.Rand) *MultiDeck {
	m := &MultiDeck{
		rng:       rng,
		backing:   backing,
		contained: make(map[int]struct{}, len(backing)),
	}
	m.mu.Lock()
	m.refill()
	m.mu.Unlock()
	return m
}

// Request draws the first queued card whose id is not banned, refilling
// the queue once if the scan comes up empty. A nil result means the draw
// cannot be fulfilled right now; callers treat that as a partial hand,
// not an error.
func (m *MultiDeck) Request(banned map[int]struct{}) *Card {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.pick(banned); c != nil {
		return c
	}

	// Nothing viable staged. Refill from the backing cards that are not
	// currently queued and scan once more. For backing decks only slightly
	// bigger than the ban set this trades some randomness for progress; in
	// practice deck size exceeds the ban set by a factor of two or more.
	m.refill()
	return m.pick(banned)
}

// RequestMixed draws like Request but first rolls whether to delegate the
// draw to the wild deck. The roll is uniform in [1, cardsLeft] and
// delegates when it lands at or below the number of wild cards currently
// staged, which biases wild appearance to roughly one per remaining draws
// without ever exceeding wild supply. A failed wild draw falls back to the
// normal deck.
func (m *MultiDeck) RequestMixed(banned map[int]struct{}, wilds *MultiDeck, cardsLeft int, bannedWilds map[int]struct{}) *Card {
	if wilds != nil && cardsLeft > 0 {
		m.mu.Lock()
		roll := m.rng.IntN(cardsLeft) + 1
		m.mu.Unlock()
		if roll <= wilds.QueueLen() {
			if c := wilds.Request(bannedWilds); c != nil {
				return c
			}
		}
	}
	return m.Request(banned)
}

// PutBack stages a card in the queue again. Played wild cards are returned
// this way so they can circulate before the next natural refill.
func (m *MultiDeck) PutBack(c *Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contained[c.ID]; ok {
		return
	}
	m.contained[c.ID] = struct{}{}
	m.queue = append(m.queue, c)
}

// QueueLen returns the number of cards currently staged.
func (m *MultiDeck) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// pick scans the queue from the front for the first card not in banned and
// removes it from circulation. Caller holds m.mu.
func (m *MultiDeck) pick(banned map[int]struct{}) *Card {
	for i, c := range m.queue {
		if _, ok := banned[c.ID]; ok {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		delete(m.contained, c.ID)
		return c
	}
	return nil
}

// refill shuffles every backing card that is not already staged into the
// queue. Caller holds m.mu.
func (m *MultiDeck) refill() {
	pool := make([]*Card, 0, len(m.backing))
	for _, c := range m.backing {
		if _, ok := m.contained[c.ID]; !ok {
			pool = append(pool, c)
		}
	}
	m.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	for _, c := range pool {
		m.contained[c.ID] = struct{}{}
		m.queue = append(m.queue, c)
	}
}
