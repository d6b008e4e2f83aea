package deck

import (
	"fmt"
	rand "math/rand/v2"
	"strings"
)

// Reason is the status code reported by deck parsing.
type Reason string

const (
	ReasonOK             Reason = "OK"
	ReasonInvalidFormat  Reason = "invalid_format"
	ReasonInvalidType    Reason = "invalid_type"
	ReasonIllegalGap     Reason = "illegal_gap"
	ReasonTooManyGaps    Reason = "too_many_gaps"
	ReasonStatementNoGap Reason = "statement_no_gap"
	ReasonDeckTooSmall   Reason = "deck_too_small"
)

// OK reports whether parsing produced a usable deck without warnings.
func (r Reason) OK() bool { return r == ReasonOK }

// Limits bounds the size and composition of an uploaded deck.
type Limits struct {
	MinStatement int
	MinObject    int
	MinVerb      int
	MaxCards     int
	MaxGaps      int
}

// DefaultLimits returns the standard deck limits. The per-type minimums
// must not be set lower than the hand quota.
func DefaultLimits() Limits {
	return Limits{
		MinStatement: 10,
		MinObject:    10,
		MinVerb:      10,
		MaxCards:     9999,
		MaxGaps:      3,
	}
}

// Deck is the immutable per-match card collection, grouped by type.
type Deck struct {
	cards map[CardType][]*Card
}

// Cards returns the cards of the given type.
func (d *Deck) Cards(t CardType) []*Card {
	return d.cards[t]
}

// Size returns the total number of cards in the deck.
func (d *Deck) Size() int {
	n := 0
	for _, cs := range d.cards {
		n += len(cs)
	}
	return n
}

// MultiDecks builds one dealer per card type present in the deck. Each
// dealer gets its own RNG stream derived from the provided source so that
// draws stay reproducible under a fixed seed.
func (d *Deck) MultiDecks(rng *rand.Rand) map[CardType]*MultiDeck {
	mdecks := make(map[CardType]*MultiDeck, len(d.cards))
	for t, cs := range d.cards {
		sub := rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
		mdecks[t] = NewMultiDeck(cs, sub)
	}
	return mdecks
}

// Parse reads an uploaded card list in TEXT<TAB>TYPE format and builds a
// deck from it. Hard format violations return a nil deck and the matching
// reason. A deck that merely falls short of the per-type minimums is padded
// with placeholder cards and returned together with ReasonDeckTooSmall so
// the caller can warn without losing the match.
func Parse(data string, limits Limits) (*Deck, Reason) {
	d := &Deck{cards: make(map[CardType][]*Card)}

	need := map[CardType]int{
		Statement: limits.MinStatement,
		Object:    limits.MinObject,
		Verb:      limits.MinVerb,
	}

	id := 0
	left := limits.MaxCards
	for _, line := range strings.FieldsFunc(data, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cols := strings.Split(line, "\t")
		if len(cols) != 2 {
			return nil, ReasonInvalidFormat
		}
		text := cols[0]
		typ, ok := ParseCardType(cols[1])
		if !ok {
			return nil, ReasonInvalidType
		}

		gaps := strings.Count(text, "_")
		if gaps > 0 {
			if typ != Statement {
				return nil, ReasonIllegalGap
			}
			if gaps > limits.MaxGaps {
				return nil, ReasonTooManyGaps
			}
		} else if typ == Statement {
			return nil, ReasonStatementNoGap
		}

		d.cards[typ] = append(d.cards[typ], &Card{ID: id, Type: typ, Text: text})
		id++
		need[typ]--

		left--
		if left == 0 {
			break
		}
	}

	reason := ReasonOK
	for typ, n := range need {
		if n <= 0 {
			continue
		}
		reason = ReasonDeckTooSmall
		for i := 0; i < n; i++ {
			text := fmt.Sprintf("Placeholder %d", i+1)
			if typ == Statement {
				text = fmt.Sprintf("Placeholder %d: _", i+1)
			}
			d.cards[typ] = append(d.cards[typ], &Card{ID: id, Type: typ, Text: text})
			id++
		}
	}

	return d, reason
}
