// Package semantic implements the name→OID map of spec §4.4: a
// unique-name index guarded by a sync.RWMutex (not an RWCSEM, so a
// contended call blocks its goroutine instead of suspending a task), with
// a monotonic OID counter starting at 1 (OID 0 is reserved "no object",
// per spec §3).
//
// Mutations (Create/Unlink/Rename) are staged, not applied immediately:
// each returns a [Pending] that the caller (internal/engine's ExecCreate,
// ExecUnlink and ExecRename) holds and either Commits once the rest of
// the operation has succeeded or Rolls back on failure; the object
// scheduler is not involved. This mirrors the teacher's buffer-then-commit shape in
// agent-task's pkg/mddb (Tx accumulates ops, Commit applies them
// durably; a failed/aborted Tx's buffered ops simply never apply).
package semantic

import (
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/raleighdb/internal/errs"
)

// Layer is the semantic name→OID map.
type Layer struct {
	mu      sync.RWMutex
	byName  map[string]uint64 // committed names only
	staged  map[string]*Pending // names with an in-flight pending op
	nextOID atomic.Uint64
}

// New creates an empty Layer with next_oid starting at 1.
func New() *Layer {
	l := &Layer{
		byName: make(map[string]uint64),
		staged: make(map[string]*Pending),
	}
	l.nextOID.Store(1)

	return l
}

// opKind discriminates a Pending's intended effect.
type opKind int

const (
	opCreate opKind = iota
	opUnlink
	opRename
)

// Pending is a staged, not-yet-committed semantic mutation. Exactly one
// of [Pending.Commit] or [Pending.Rollback] must be called.
type Pending struct {
	kind    opKind
	name    string // for create/unlink: the name; for rename: the old name
	newName string // for rename only
	oid     uint64
}

// OID returns the object identifier this pending mutation concerns (the
// newly allocated OID for Create, or the mapped OID for Unlink/Rename).
func (p *Pending) OID() uint64 { return p.oid }

// Lookup returns the OID mapped to name, or ErrObjectNotFound. Only
// committed state is visible — in-flight Create/Unlink/Rename never
// appear here until Commit runs.
func (l *Layer) Lookup(name string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	oid, ok := l.byName[name]
	if !ok {
		return 0, errs.New(errs.ErrObjectNotFound).WithName(name)
	}

	return oid, nil
}

// Create stages a new name→OID mapping, allocating a fresh monotonic OID.
// Fails with ErrObjectExists if name is already committed or already has
// a pending mutation in flight.
func (l *Layer) Create(name string) (*Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byName[name]; ok {
		return nil, errs.New(errs.ErrObjectExists).WithName(name)
	}

	if _, ok := l.staged[name]; ok {
		return nil, errs.New(errs.ErrObjectExists).WithName(name)
	}

	oid := l.nextOID.Add(1) - 1
	p := &Pending{kind: opCreate, name: name, oid: oid}
	l.staged[name] = p

	return p, nil
}

// Unlink stages removal of name. Fails with ErrObjectNotFound if name is
// not committed, or ErrObjectExists if a conflicting mutation on name is
// already staged.
func (l *Layer) Unlink(name string) (*Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oid, ok := l.byName[name]
	if !ok {
		return nil, errs.New(errs.ErrObjectNotFound).WithName(name)
	}

	if _, staged := l.staged[name]; staged {
		return nil, errs.New(errs.ErrObjectExists).WithName(name)
	}

	p := &Pending{kind: opUnlink, name: name, oid: oid}
	l.staged[name] = p

	return p, nil
}

// Rename stages a move from oldName to newName. Fails if oldName is not
// committed, newName is already committed, or either name already has a
// staged mutation.
func (l *Layer) Rename(oldName, newName string) (*Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oid, ok := l.byName[oldName]
	if !ok {
		return nil, errs.New(errs.ErrObjectNotFound).WithName(oldName)
	}

	if _, ok := l.byName[newName]; ok {
		return nil, errs.New(errs.ErrObjectExists).WithName(newName)
	}

	if _, ok := l.staged[oldName]; ok {
		return nil, errs.New(errs.ErrObjectExists).WithName(oldName)
	}

	if _, ok := l.staged[newName]; ok {
		return nil, errs.New(errs.ErrObjectExists).WithName(newName)
	}

	p := &Pending{kind: opRename, name: oldName, newName: newName, oid: oid}
	l.staged[oldName] = p
	l.staged[newName] = p

	return p, nil
}

// Commit finalizes a staged mutation, making it visible to Lookup.
func (l *Layer) Commit(p *Pending) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch p.kind {
	case opCreate:
		l.byName[p.name] = p.oid
		delete(l.staged, p.name)
	case opUnlink:
		delete(l.byName, p.name)
		delete(l.staged, p.name)
	case opRename:
		delete(l.byName, p.name)
		l.byName[p.newName] = p.oid
		delete(l.staged, p.name)
		delete(l.staged, p.newName)
	}
}

// Rollback discards a staged mutation, leaving committed state untouched.
// The allocated OID of a rolled-back Create is never reused (next_oid is
// monotonic).
func (l *Layer) Rollback(p *Pending) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch p.kind {
	case opCreate, opUnlink:
		delete(l.staged, p.name)
	case opRename:
		delete(l.staged, p.name)
		delete(l.staged, p.newName)
	}
}
