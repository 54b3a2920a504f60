package byteref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseBalancesToZero(t *testing.T) {
	freed := 0
	r := New([]byte("hello"), func() { freed++ })

	r.Acquire()
	r.Acquire()
	assert.Equal(t, int32(3), r.RefCount())

	r.Release()
	r.Release()
	assert.Equal(t, 0, freed)

	r.Release()
	assert.Equal(t, 1, freed)
}

func TestDecRefCalledExactlyOnce(t *testing.T) {
	calls := 0
	r := New([]byte("x"), func() { calls++ })

	for range 5 {
		r.Acquire()
	}

	for range 6 {
		r.Release()
	}

	assert.Equal(t, 1, calls)
}

func TestNilDecRefIsOptional(t *testing.T) {
	r := New([]byte("x"), nil)
	require.NotPanics(t, func() { r.Release() })
}

func TestUnbalancedReleasePanics(t *testing.T) {
	r := New([]byte("x"), nil)
	r.Release()

	assert.Panics(t, func() { r.Release() })
}

func TestAcquireAfterFreePanics(t *testing.T) {
	r := New([]byte("x"), nil)
	r.Release()

	assert.Panics(t, func() { r.Acquire() })
}
