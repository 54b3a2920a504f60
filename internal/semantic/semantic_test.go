package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/raleighdb/internal/errs"
)

func TestCreateCommitThenLookup(t *testing.T) {
	l := New()

	p, err := l.Create("widgets")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.OID())

	// Not visible until committed.
	_, err = l.Lookup("widgets")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))

	l.Commit(p)

	oid, err := l.Lookup("widgets")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), oid)
}

func TestCreateRollbackLeavesNothingVisible(t *testing.T) {
	l := New()

	p, err := l.Create("widgets")
	require.NoError(t, err)

	l.Rollback(p)

	_, err = l.Lookup("widgets")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))

	// The OID is never reused: next Create allocates a fresh one.
	p2, err := l.Create("widgets")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p2.OID())
}

func TestCreateDuplicateNameFails(t *testing.T) {
	l := New()

	p, err := l.Create("widgets")
	require.NoError(t, err)
	l.Commit(p)

	_, err = l.Create("widgets")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectExists))
}

func TestCreateConflictsWithInFlightStage(t *testing.T) {
	l := New()

	_, err := l.Create("widgets")
	require.NoError(t, err)

	_, err = l.Create("widgets")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectExists))
}

func TestUnlinkCommitRemovesName(t *testing.T) {
	l := New()

	p, _ := l.Create("widgets")
	l.Commit(p)

	u, err := l.Unlink("widgets")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), u.OID())

	l.Commit(u)

	_, err = l.Lookup("widgets")
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))
}

func TestUnlinkRollbackKeepsNameVisible(t *testing.T) {
	l := New()

	p, _ := l.Create("widgets")
	l.Commit(p)

	u, err := l.Unlink("widgets")
	require.NoError(t, err)

	l.Rollback(u)

	oid, err := l.Lookup("widgets")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), oid)
}

func TestUnlinkMissingNameFails(t *testing.T) {
	l := New()

	_, err := l.Unlink("ghost")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))
}

func TestRenameCommitMovesName(t *testing.T) {
	l := New()

	p, _ := l.Create("old")
	l.Commit(p)

	r, err := l.Rename("old", "new")
	require.NoError(t, err)
	l.Commit(r)

	_, err = l.Lookup("old")
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))

	oid, err := l.Lookup("new")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), oid)
}

func TestRenameRollbackLeavesOldNameInPlace(t *testing.T) {
	l := New()

	p, _ := l.Create("old")
	l.Commit(p)

	r, err := l.Rename("old", "new")
	require.NoError(t, err)
	l.Rollback(r)

	oid, err := l.Lookup("old")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), oid)

	_, err = l.Lookup("new")
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))
}

func TestRenameTargetExistsFails(t *testing.T) {
	l := New()

	p1, _ := l.Create("a")
	l.Commit(p1)

	p2, _ := l.Create("b")
	l.Commit(p2)

	_, err := l.Rename("a", "b")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectExists))
}

func TestRenameMissingSourceFails(t *testing.T) {
	l := New()

	_, err := l.Rename("ghost", "new")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrObjectNotFound))
}
