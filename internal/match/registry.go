package match

import (
	rand "math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"blanks/internal/config"
	"blanks/internal/deck"
	"blanks/internal/randutil"
)

// Summary holds lightweight match metadata for clients browsing the
// lobby.
type Summary struct {
	ID           int    `json:"id"`
	Owner        string `json:"owner"`
	Participants int    `json:"participants"`
	CanJoin      bool   `json:"can_join"`
	Seconds      int    `json:"seconds"`
}

// Registry is the process-wide collection of live matches. It is an
// explicitly constructed object so tests can build and tear down isolated
// instances.
//
// The pool lock is a leaf in the lock order: no match or participant lock
// is ever acquired while it is held. Callers take a snapshot under the
// pool lock and operate on matches afterwards.
type Registry struct {
	logger *log.Logger
	clock  quartz.Clock
	cfg    config.Game

	frozen atomic.Bool

	mu      sync.RWMutex
	matches map[int]*Match
	nextID  int
	rng     *rand.Rand // seeds per-match RNG streams
}

// NewRegistry constructs an empty registry. The seed determines every
// match's dealing sequence, which keeps whole games reproducible.
func NewRegistry(logger *log.Logger, clock quartz.Clock, cfg config.Game, seed int64) *Registry {
	return &Registry{
		logger:  logger.WithPrefix("registry"),
		clock:   clock,
		cfg:     cfg,
		matches: make(map[int]*Match),
		rng:     randutil.New(seed),
	}
}

// CreateMatch parses an uploaded card list and, if it yields a usable
// deck, registers a new pending match built from it. The reason code is
// meaningful even on success: a padded deck reports deck_too_small as a
// warning.
func (r *Registry) CreateMatch(deckData string) (*Match, deck.Reason) {
	limits := deck.Limits{
		MinStatement: r.cfg.MinStatementCards,
		MinObject:    r.cfg.MinObjectCards,
		MinVerb:      r.cfg.MinVerbCards,
		MaxCards:     r.cfg.MaxDeckSize,
		MaxGaps:      3,
	}
	d, reason := deck.Parse(deckData, limits)
	if d == nil {
		return nil, reason
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	rng := rand.New(rand.NewPCG(r.rng.Uint64(), r.rng.Uint64()))
	r.mu.Unlock()

	m := newMatch(id, d, r, rng)

	r.mu.Lock()
	r.matches[id] = m
	r.mu.Unlock()

	r.logger.Info("match created", "match", id, "deck_size", d.Size(), "reason", reason)
	return m, reason
}

// ByID retrieves a match, or nil when it no longer exists.
func (r *Registry) ByID(id int) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matches[id]
}

// All returns a snapshot of the live matches ordered by id.
func (r *Registry) All() []*Match {
	r.mu.RLock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes a match from the pool. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	_, ok := r.matches[id]
	delete(r.matches, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info("match removed", "match", id)
	}
}

// MatchOfParticipant finds the match a participant belongs to, or nil.
func (r *Registry) MatchOfParticipant(pid string) *Match {
	for _, m := range r.All() {
		if m.HasParticipant(pid) {
			return m
		}
	}
	return nil
}

// List returns lobby summaries for every live match.
func (r *Registry) List() []Summary {
	all := r.All()
	out := make([]Summary, 0, len(all))
	for _, m := range all {
		out = append(out, Summary{
			ID:           m.ID,
			Owner:        m.OwnerNickname(),
			Participants: m.NumParticipants(),
			CanJoin:      m.CanJoin(),
			Seconds:      m.SecondsToNextPhase(),
		})
	}
	return out
}

// Housekeeping walks the pool once: it expires timed-out participants,
// advances every due state machine and reaps empty matches. It runs on
// every inbound request (and optionally on a periodic sweep), which bounds
// how stale an idle match can get.
func (r *Registry) Housekeeping() {
	for _, m := range r.All() {
		m.CheckParticipants()
		m.CheckTimer()
		if m.NumParticipants() == 0 {
			r.Remove(m.ID)
		}
	}
}

// Freeze suspends all match timers until Unfreeze is called. Operator
// command; match state is left untouched.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Unfreeze lets match timers run again.
func (r *Registry) Unfreeze() {
	r.frozen.Store(false)
}

// Frozen reports whether timers are suspended.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Len returns the number of live matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}
