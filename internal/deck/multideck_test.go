package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blanks/internal/randutil"
)

func cards(t CardType, n int) []*Card {
	cs := make([]*Card, n)
	for i := range cs {
		cs[i] = &Card{ID: i, Type: t, Text: "card"}
	}
	return cs
}

func TestMultiDeckDealsEveryCardOnce(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 10), randutil.New(1))

	seen := make(map[int]struct{})
	for i := 0; i < 10; i++ {
		c := md.Request(nil)
		require.NotNil(t, c)
		_, dup := seen[c.ID]
		assert.False(t, dup, "card %d dealt twice", c.ID)
		seen[c.ID] = struct{}{}
	}
	assert.Len(t, seen, 10)
}

func TestMultiDeckRefillsAfterExhaustion(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 3), randutil.New(2))
	for i := 0; i < 3; i++ {
		require.NotNil(t, md.Request(nil))
	}

	// The queue is empty now but the backing deck is not gone for good.
	c := md.Request(nil)
	require.NotNil(t, c)
}

func TestMultiDeckRespectsBans(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 4), randutil.New(3))
	banned := map[int]struct{}{0: {}, 1: {}, 2: {}}

	for i := 0; i < 5; i++ {
		c := md.Request(banned)
		require.NotNil(t, c)
		assert.Equal(t, 3, c.ID)
	}
}

func TestMultiDeckExhaustedByBans(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 2), randutil.New(4))
	banned := map[int]struct{}{0: {}, 1: {}}

	assert.Nil(t, md.Request(banned))
}

func TestMultiDeckPutBack(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Wild, 1), randutil.New(5))
	c := md.Request(nil)
	require.NotNil(t, c)
	assert.Equal(t, 0, md.QueueLen())

	md.PutBack(c)
	assert.Equal(t, 1, md.QueueLen())

	// Staging the same card twice must not duplicate it.
	md.PutBack(c)
	assert.Equal(t, 1, md.QueueLen())

	again := md.Request(nil)
	require.NotNil(t, again)
	assert.Equal(t, c.ID, again.ID)
}

func TestRequestMixedWithoutWilds(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 5), randutil.New(6))
	c := md.RequestMixed(nil, nil, 5, nil)
	require.NotNil(t, c)
	assert.Equal(t, Object, c.Type)
}

func TestRequestMixedAlwaysWild(t *testing.T) {
	t.Parallel()

	// With as many staged wilds as cards left the roll can never exceed
	// the wild queue, so the draw must delegate.
	md := NewMultiDeck(cards(Object, 5), randutil.New(7))
	wilds := NewMultiDeck(cards(Wild, 5), randutil.New(8))

	c := md.RequestMixed(nil, wilds, 5, nil)
	require.NotNil(t, c)
	assert.Equal(t, Wild, c.Type)
}

func TestRequestMixedFallsBackWhenWildsBanned(t *testing.T) {
	t.Parallel()

	md := NewMultiDeck(cards(Object, 5), randutil.New(9))
	wilds := NewMultiDeck(cards(Wild, 2), randutil.New(10))
	bannedWilds := map[int]struct{}{0: {}, 1: {}}

	for i := 0; i < 5; i++ {
		c := md.RequestMixed(nil, wilds, 2, bannedWilds)
		require.NotNil(t, c)
		assert.Equal(t, Object, c.Type)
	}
}

func TestMultiDeckSpreadsDrawsAcrossHands(t *testing.T) {
	t.Parallel()

	// Five hands of five cards from a 30-card deck, each hand banning only
	// its own cards. The queue is not exhausted until the 30th draw, so no
	// card can be dealt twice across these hands.
	md := NewMultiDeck(cards(Object, 30), randutil.New(11))
	counts := map[int]int{}
	for hand := 0; hand < 5; hand++ {
		banned := map[int]struct{}{}
		for i := 0; i < 5; i++ {
			c := md.Request(banned)
			require.NotNil(t, c)
			banned[c.ID] = struct{}{}
			counts[c.ID]++
		}
	}
	for id, n := range counts {
		assert.LessOrEqual(t, n, 1, "card %d", id)
	}
}

func TestMultiDeckDeterministicUnderSeed(t *testing.T) {
	t.Parallel()

	a := NewMultiDeck(cards(Object, 20), randutil.New(42))
	b := NewMultiDeck(cards(Object, 20), randutil.New(42))

	for i := 0; i < 20; i++ {
		ca, cb := a.Request(nil), b.Request(nil)
		require.NotNil(t, ca)
		require.NotNil(t, cb)
		assert.Equal(t, ca.ID, cb.ID)
	}
}
