package avlpage

import (
	"github.com/calvinalkan/raleighdb/internal/errs"
)

// Txn is a page-local transaction (spec §4.8): either a read-only view of
// a historical seqid, or a single mutating session path-copying nodes
// into a fresh working seqid.
//
// A failed Insert/Remove still path-copies nodes along the probed search
// path before discovering the failure, so every mutating Txn — including
// one where every call failed — must end in exactly one call to Commit or
// Revert; Commit itself calls Revert when the transaction is marked
// failed, so the common case is simply always calling Commit.
type Txn struct {
	page *Page

	readOnly bool
	seqid    uint64 // the seqid this txn reads against (readOnly) or writes into
	root     int32

	failed bool

	// cloned records every node this txn path-copied, so Revert can
	// restore the superseded original's death marker and free the new
	// copy; newNodes are additionally freed outright since they never
	// existed at any committed seqid.
	cloned   []int32 // original indices whose death was set by this txn
	newNodes []int32 // indices allocated by this txn
}

// OpenTxn opens a page-local transaction. seqid=0 is the "current"
// sentinel, resolving to the page's most recently committed uber; a
// nonzero seqid opens a read-only historical view, failing with
// ErrObjectNotFound if that uber has been reclaimed by Clean.
func (p *Page) OpenTxn(seqid uint64) (*Txn, error) {
	root, ok := p.rootAt(seqid)
	if !ok {
		return nil, errs.New(errs.ErrObjectNotFound)
	}

	readOnly := seqid != 0

	working := seqid
	if !readOnly {
		working = p.curSeqid + 1
	}

	return &Txn{page: p, readOnly: readOnly, seqid: working, root: root}, nil
}

// cloneIfNeeded returns idx unchanged if it already belongs to this txn's
// working seqid; otherwise it path-copies it into a fresh node, marks the
// original superseded from this seqid onward, and returns the new index.
func (t *Txn) cloneIfNeeded(idx int32) (int32, error) {
	if idx == nilIdx {
		return nilIdx, nil
	}

	orig := &t.page.nodes[idx]
	if orig.birth == t.seqid {
		return idx, nil
	}

	newIdx, err := t.page.alloc()
	if err != nil {
		return nilIdx, err
	}

	cp := *orig
	cp.birth = t.seqid
	cp.death = 0
	cp.key = append([]byte(nil), orig.key...)
	cp.payload = append([]byte(nil), orig.payload...)
	t.page.nodes[newIdx] = cp

	orig.death = t.seqid
	t.cloned = append(t.cloned, idx)
	t.newNodes = append(t.newNodes, newIdx)

	return newIdx, nil
}

func height(p *Page, idx int32) int8 {
	if idx == nilIdx {
		return 0
	}

	return p.nodes[idx].height
}

func (t *Txn) updateHeight(idx int32) {
	n := &t.page.nodes[idx]

	lh, rh := height(t.page, n.left), height(t.page, n.right)
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func balanceFactor(p *Page, idx int32) int {
	n := &p.nodes[idx]

	return int(height(p, n.left)) - int(height(p, n.right))
}

// rotateRight/rotateLeft assume both idx and its relevant child already
// belong to the working seqid (callers clone before rotating).
func (t *Txn) rotateRight(idx int32) int32 {
	n := &t.page.nodes[idx]
	l := n.left
	ln := &t.page.nodes[l]

	n.left = ln.right
	ln.right = idx

	t.updateHeight(idx)
	t.updateHeight(l)

	return l
}

func (t *Txn) rotateLeft(idx int32) int32 {
	n := &t.page.nodes[idx]
	r := n.right
	rn := &t.page.nodes[r]

	n.right = rn.left
	rn.left = idx

	t.updateHeight(idx)
	t.updateHeight(r)

	return r
}

func (t *Txn) rebalance(idx int32) (int32, error) {
	t.updateHeight(idx)

	bf := balanceFactor(t.page, idx)

	if bf > 1 {
		n := &t.page.nodes[idx]

		l, err := t.cloneIfNeeded(n.left)
		if err != nil {
			return nilIdx, err
		}

		n.left = l

		if balanceFactor(t.page, l) < 0 {
			rl, err := t.cloneIfNeeded(t.page.nodes[l].right)
			if err != nil {
				return nilIdx, err
			}

			t.page.nodes[l].right = rl
			n.left = t.rotateLeft(l)
		}

		return t.rotateRight(idx), nil
	}

	if bf < -1 {
		n := &t.page.nodes[idx]

		r, err := t.cloneIfNeeded(n.right)
		if err != nil {
			return nilIdx, err
		}

		n.right = r

		if balanceFactor(t.page, r) > 0 {
			lr, err := t.cloneIfNeeded(t.page.nodes[r].left)
			if err != nil {
				return nilIdx, err
			}

			t.page.nodes[r].left = lr
			n.right = t.rotateRight(r)
		}

		return t.rotateLeft(idx), nil
	}

	return idx, nil
}

// Insert path-copies from root to the insertion point, returning a
// payloadCap-byte slice for the caller to fill. Fails with
// ErrDataKeyExists if key is already present.
func (t *Txn) Insert(cmp CompareFunc, key []byte) ([]byte, error) {
	if t.readOnly {
		panic("avlpage: insert on read-only txn")
	}

	newRoot, payload, err := t.insert(t.root, cmp, key)
	if err != nil {
		t.failed = true

		return nil, err
	}

	t.root = newRoot

	return payload, nil
}

func (t *Txn) insert(idx int32, cmp CompareFunc, key []byte) (int32, []byte, error) {
	if idx == nilIdx {
		newIdx, err := t.page.alloc()
		if err != nil {
			return nilIdx, nil, err
		}

		n := &t.page.nodes[newIdx]
		n.birth = t.seqid
		n.left, n.right = nilIdx, nilIdx
		n.height = 1
		n.keyLen = int32(len(key))
		copy(n.key, key)
		t.newNodes = append(t.newNodes, newIdx)

		return newIdx, n.payload, nil
	}

	idx, err := t.cloneIfNeeded(idx)
	if err != nil {
		return nilIdx, nil, err
	}

	n := &t.page.nodes[idx]

	c := cmp(key, n.key[:n.keyLen])

	switch {
	case c < 0:
		newLeft, payload, err := t.insert(n.left, cmp, key)
		if err != nil {
			return nilIdx, nil, err
		}

		n.left = newLeft

		newIdx, err := t.rebalance(idx)

		return newIdx, payload, err
	case c > 0:
		newRight, payload, err := t.insert(n.right, cmp, key)
		if err != nil {
			return nilIdx, nil, err
		}

		n.right = newRight

		newIdx, err := t.rebalance(idx)

		return newIdx, payload, err
	default:
		return nilIdx, nil, errs.New(errs.ErrDataKeyExists)
	}
}

// Append inserts at the right spine without a key comparison, for
// log/queue-style sequential writers.
func (t *Txn) Append() ([]byte, error) {
	if t.readOnly {
		panic("avlpage: append on read-only txn")
	}

	newRoot, payload, err := t.appendRight(t.root)
	if err != nil {
		t.failed = true

		return nil, err
	}

	t.root = newRoot

	return payload, nil
}

func (t *Txn) appendRight(idx int32) (int32, []byte, error) {
	if idx == nilIdx {
		newIdx, err := t.page.alloc()
		if err != nil {
			return nilIdx, nil, err
		}

		n := &t.page.nodes[newIdx]
		n.birth = t.seqid
		n.left, n.right = nilIdx, nilIdx
		n.height = 1
		t.newNodes = append(t.newNodes, newIdx)

		return newIdx, n.payload, nil
	}

	idx, err := t.cloneIfNeeded(idx)
	if err != nil {
		return nilIdx, nil, err
	}

	n := &t.page.nodes[idx]

	newRight, payload, err := t.appendRight(n.right)
	if err != nil {
		return nilIdx, nil, err
	}

	n.right = newRight

	newIdx, err := t.rebalance(idx)

	return newIdx, payload, err
}

// Lookup searches against this txn's own root snapshot, never observing
// mutations from other, concurrently open transactions.
func (t *Txn) Lookup(cmp CompareFunc, key []byte) ([]byte, bool) {
	idx := t.root

	for idx != nilIdx {
		n := &t.page.nodes[idx]

		c := cmp(key, n.key[:n.keyLen])

		switch {
		case c == 0:
			return n.payload, true
		case c < 0:
			idx = n.left
		default:
			idx = n.right
		}
	}

	return nil, false
}

// Remove deletes key via a standard path-copied AVL delete; the removed
// node's death is set to the working seqid rather than freeing it
// immediately (historical readers may still reference it).
func (t *Txn) Remove(cmp CompareFunc, key []byte) error {
	if t.readOnly {
		panic("avlpage: remove on read-only txn")
	}

	newRoot, removed, err := t.remove(t.root, cmp, key)
	if err != nil {
		t.failed = true

		return err
	}

	if !removed {
		t.failed = true

		return errs.New(errs.ErrDataKeyNotFound)
	}

	t.root = newRoot

	return nil
}

func (t *Txn) remove(idx int32, cmp CompareFunc, key []byte) (int32, bool, error) {
	if idx == nilIdx {
		return nilIdx, false, nil
	}

	idx, err := t.cloneIfNeeded(idx)
	if err != nil {
		return nilIdx, false, err
	}

	n := &t.page.nodes[idx]

	c := cmp(key, n.key[:n.keyLen])

	switch {
	case c < 0:
		newLeft, removed, err := t.remove(n.left, cmp, key)
		if err != nil || !removed {
			return idx, removed, err
		}

		n.left = newLeft

		newIdx, err := t.rebalance(idx)

		return newIdx, true, err
	case c > 0:
		newRight, removed, err := t.remove(n.right, cmp, key)
		if err != nil || !removed {
			return idx, removed, err
		}

		n.right = newRight

		newIdx, err := t.rebalance(idx)

		return newIdx, true, err
	default:
		// Found it. Standard AVL delete with path copying.
		if n.left == nilIdx {
			n.death = t.seqid

			return n.right, true, nil
		}

		if n.right == nilIdx {
			n.death = t.seqid

			return n.left, true, nil
		}

		// Two children: splice in the right subtree's minimum.
		succIdx, succKey, succPayload, err := t.detachMin(n.right)
		if err != nil {
			return nilIdx, false, err
		}

		n.right = succIdx

		newIdx, err := t.cloneIfNeeded(idx)
		if err != nil {
			return nilIdx, false, err
		}

		sn := &t.page.nodes[newIdx]
		sn.keyLen = int32(len(succKey))
		copy(sn.key, succKey)
		copy(sn.payload, succPayload)

		rebalanced, err := t.rebalance(newIdx)

		return rebalanced, true, err
	}
}

// detachMin removes and returns the minimum node of the subtree rooted at
// idx, along with its key/payload (the caller splices those into the
// node being deleted), and the new subtree root.
func (t *Txn) detachMin(idx int32) (int32, []byte, []byte, error) {
	idx, err := t.cloneIfNeeded(idx)
	if err != nil {
		return nilIdx, nil, nil, err
	}

	n := &t.page.nodes[idx]

	if n.left == nilIdx {
		n.death = t.seqid

		key := append([]byte(nil), n.key[:n.keyLen]...)
		payload := append([]byte(nil), n.payload...)

		return n.right, key, payload, nil
	}

	newLeft, key, payload, err := t.detachMin(n.left)
	if err != nil {
		return nilIdx, nil, nil, err
	}

	n.left = newLeft

	newIdx, err := t.rebalance(idx)

	return newIdx, key, payload, err
}

// Commit installs a new uber {seqid, root} in the first unused uber slot
// (a slot freed by Clean is reused the same way), or reverts and returns
// nil if the transaction already failed. Fails with ErrPageFull, after
// reverting, if every uber slot is in use; running out of nodes is
// reported by the Insert or Remove call that hit it, not by Commit.
func (t *Txn) Commit() error {
	if t.readOnly {
		return nil
	}

	if t.failed {
		return t.Revert()
	}

	slot := -1

	for i := range t.page.ubers {
		if !t.page.ubers[i].used {
			slot = i

			break
		}
	}

	if slot == -1 {
		// No free uber slot: matches spec's "fails with a dedicated errno
		// if the page has no space for another uber". Reclaiming old
		// ubers is Clean's job, not Commit's.
		if err := t.Revert(); err != nil {
			return err
		}

		return errs.New(errs.ErrPageFull)
	}

	t.page.ubers[slot] = uberSlot{used: true, seqid: t.seqid, root: t.root}
	t.page.curSeqid = t.seqid
	t.page.curUber = slot

	if err := t.page.persist(); err != nil {
		return err
	}

	return nil
}

// Revert frees every node this transaction allocated (t.newNodes) and
// clears the death marker on every node it superseded (t.cloned); it walks
// those two lists directly rather than the tree.
func (t *Txn) Revert() error {
	for _, idx := range t.newNodes {
		t.page.freeNode(idx)
	}

	for _, idx := range t.cloned {
		t.page.nodes[idx].death = 0
	}

	t.newNodes = nil
	t.cloned = nil

	return nil
}
