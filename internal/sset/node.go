package sset

import (
	"bytes"
	"sort"
)

// node is one routing slice of the object's keyspace: a mutable
// in-memory buffer (the "skiplist" of spec §4.7, implemented here as a
// key-sorted slice — no skip-list library appears anywhere in the
// example pack, and a full probabilistic skip list buys nothing over
// binary search for the in-memory sizes a single node's buffer is kept
// under before a sync pass flushes it) layered over an optional
// immutable synced block.
//
// lowerBound is nil for the first node, which is the "empty-key"
// sentinel routing node: every key routes to the node whose lowerBound
// is the greatest one <= key, and the sentinel catches everything below
// the first real split point.
type node struct {
	lowerBound []byte
	mem        []kv
	block      *Block
	bufBytes   int
	dirty      bool
}

func newNode(lowerBound []byte) *node {
	return &node{lowerBound: lowerBound}
}

// memIndex returns the insertion point for key within n.mem.
func (n *node) memIndex(key []byte) int {
	return sort.Search(len(n.mem), func(i int) bool {
		return bytes.Compare(n.mem[i].Key, key) >= 0
	})
}

// get looks up key, checking the in-memory buffer first (it always
// shadows the block, since it holds the most recent writes including
// tombstones not yet merged away).
func (n *node) get(key []byte) (value []byte, found bool) {
	i := n.memIndex(key)
	if i < len(n.mem) && bytes.Equal(n.mem[i].Key, key) {
		if n.mem[i].Tombstone {
			return nil, false
		}

		return n.mem[i].Value, true
	}

	if n.block != nil {
		return n.block.Lookup(key)
	}

	return nil, false
}

// put inserts or overwrites key in the in-memory buffer.
func (n *node) put(key, value []byte, tombstone bool) {
	i := n.memIndex(key)

	if i < len(n.mem) && bytes.Equal(n.mem[i].Key, key) {
		n.bufBytes += len(value) - len(n.mem[i].Value)
		n.mem[i].Value = value
		n.mem[i].Tombstone = tombstone
		n.dirty = true

		return
	}

	entry := kv{Key: append([]byte(nil), key...), Value: value, Tombstone: tombstone}
	n.mem = append(n.mem, kv{})
	copy(n.mem[i+1:], n.mem[i:])
	n.mem[i] = entry
	n.bufBytes += len(key) + len(value)
	n.dirty = true
}

// scan performs a k-way merge of the in-memory buffer and the immutable
// block (the buffer wins on key collision), returning live entries with
// Key >= startKey in ascending order, up to count (0 = unbounded).
func (n *node) scan(startKey []byte, count int) []kv {
	var blockEntries []kv
	if n.block != nil {
		blockEntries = n.block.Scan(startKey, 0)
	}

	memStart := n.memIndex(startKey)
	memEntries := n.mem[memStart:]

	out := make([]kv, 0, len(blockEntries)+len(memEntries))

	bi, mi := 0, 0
	for bi < len(blockEntries) || mi < len(memEntries) {
		switch {
		case mi >= len(memEntries):
			out = append(out, blockEntries[bi])
			bi++
		case bi >= len(blockEntries):
			if !memEntries[mi].Tombstone {
				out = append(out, memEntries[mi])
			}
			mi++
		default:
			cmp := bytes.Compare(memEntries[mi].Key, blockEntries[bi].Key)
			switch {
			case cmp < 0:
				if !memEntries[mi].Tombstone {
					out = append(out, memEntries[mi])
				}
				mi++
			case cmp > 0:
				out = append(out, blockEntries[bi])
				bi++
			default:
				// Same key in both: the in-memory entry is newer.
				if !memEntries[mi].Tombstone {
					out = append(out, memEntries[mi])
				}
				mi++
				bi++
			}
		}

		if count > 0 && len(out) >= count {
			return out[:count]
		}
	}

	return out
}

// liveData returns n's own mem+block merge with tombstones already
// resolved away — the "node's new block" half of the sync/merge pass,
// before any neighbour blocks are folded in (see syncNode in object.go).
func (n *node) liveData() []kv {
	return n.scan(nil, 0)
}
