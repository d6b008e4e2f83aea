package deck

import "strings"

// CardType classifies a card within a match deck.
type CardType int

const (
	Statement CardType = iota
	Object
	Verb
	Wild
)

// String returns the string representation of a card type
func (t CardType) String() string {
	switch t {
	case Statement:
		return "STATEMENT"
	case Object:
		return "OBJECT"
	case Verb:
		return "VERB"
	case Wild:
		return "WILD"
	default:
		return "UNKNOWN"
	}
}

// ParseCardType parses the upload format's type column.
func ParseCardType(s string) (CardType, bool) {
	switch s {
	case "STATEMENT":
		return Statement, true
	case "OBJECT":
		return Object, true
	case "VERB":
		return Verb, true
	case "WILD":
		return Wild, true
	default:
		return 0, false
	}
}

// Card is a single card in a match deck. Cards are created once when the
// deck is parsed and never mutated afterwards; hands reference them, they
// are never copied.
type Card struct {
	ID   int
	Type CardType
	Text string
}

// Gaps returns the number of gap markers on the card's text.
func (c *Card) Gaps() int {
	return strings.Count(c.Text, "_")
}
