package objcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSameEntryUntilAllReleased(t *testing.T) {
	c := New(10, nil, nil)

	a := c.Get(1)
	b := c.Get(1)
	assert.Same(t, a, b)
	assert.Equal(t, int32(2), a.RefCount())

	c.Release(a)
	c.Release(b)
	assert.Equal(t, int32(0), a.RefCount())
}

func TestTryInsertConflictReturnsExisting(t *testing.T) {
	c := New(10, nil, nil)

	first := c.Get(5)
	c.Release(first)

	candidate := newEntry(5)
	got, inserted := c.TryInsert(candidate)
	assert.False(t, inserted)
	assert.Same(t, first, got)

	c.Release(got)
}

func TestRemoveRefusesPinnedEntry(t *testing.T) {
	c := New(10, nil, nil)

	e := c.Get(1)
	assert.Nil(t, c.Remove(1))

	c.Release(e)
	removed := c.Remove(1)
	require.NotNil(t, removed)
	assert.Equal(t, uint64(1), removed.OID)
}

func TestLookupMissingReturnsNil(t *testing.T) {
	c := New(10, nil, nil)
	assert.Nil(t, c.Lookup(42))
}

func TestEvictionOnlyRunsOnUnpinnedEntries(t *testing.T) {
	var evicted []uint64

	c := New(2, func(e *Entry) error {
		evicted = append(evicted, e.OID)

		return nil
	}, nil)

	pinned := c.Get(1) // stays pinned throughout

	e2 := c.Get(2)
	c.Release(e2)

	e3 := c.Get(3)
	c.Release(e3)

	// Capacity is 2; inserting a 4th forces an eviction. OID 1 is
	// pinned and must never be chosen.
	e4 := c.Get(4)
	c.Release(e4)

	for _, oid := range evicted {
		assert.NotEqual(t, uint64(1), oid, "pinned entry must never be evicted")
	}

	assert.LessOrEqual(t, c.Len(), 3) // pinned(1) + whatever survived eviction
	c.Release(pinned)
}

func TestSecondReferencePromotesToAm(t *testing.T) {
	c := New(10, nil, nil)

	e := c.Get(1)
	c.Release(e)

	// First reference lives in A1in.
	_, inA1in := c.a1inPos[1]
	assert.True(t, inA1in)

	e = c.Get(1)
	c.Release(e)

	_, inAm := c.amPos[1]
	assert.True(t, inAm)
}
