// Package avlpage implements the copy-on-write AVL page of spec §4.8: a
// single fixed-capacity node pool encoding a self-versioning AVL tree
// keyed by user-defined byte-strings, exposed as its own small
// transaction abstraction independent of the per-OID transactions in
// internal/txn.
//
// Grounded on the teacher's pkg/slotcache/format.go fixed-header,
// offset-table, generation-counter binary layout (slc1Header's
// Generation field: even=stable, the same "a monotonic counter gates
// visibility" idea this package generalizes to a full version history
// via uber slots) and pkg/slotcache/open.go's header validation on open.
// Uses encoding/binary + hash/crc32, same as the teacher, for the
// on-disk page header; node/uber slots are fixed-size records within the
// page, the same "slot array with a free list" shape as slotcache's own
// slot pool.
package avlpage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/calvinalkan/raleighdb/internal/blockdev"
	"github.com/calvinalkan/raleighdb/internal/errs"
)

const (
	pageMagic      = "AVL1"
	pageVersion    = 1
	pageHeaderSize = 64

	nilIdx int32 = -1
)

// Page header field offsets, mirroring slotcache's offXxx convention.
const (
	offMagic      = 0x00 // [4]byte
	offVersion    = 0x04 // uint32
	offKeyCap     = 0x08 // uint32
	offPayloadCap = 0x0C // uint32
	offNodeCap    = 0x10 // uint32
	offUberCap    = 0x14 // uint32
	offNodeCount  = 0x18 // uint32
	offCurSeqid   = 0x1C // uint32 (low 32 bits; seqid is logically 48-bit per spec, stored as uint64 below)
	offCurSeqid64 = 0x20 // uint64 authoritative current committed seqid
	offCRC32C     = 0x28 // uint32
)

// CompareFunc orders two keys, mirroring bytes.Compare's contract: negative
// if a < b, zero if equal, positive if a > b. Callers typically pass
// bytes.Compare directly.
type CompareFunc func(a, b []byte) int

// node is one slot in the page's node pool.
type node struct {
	birth uint64 // seqid at which this version was created
	death uint64 // seqid from which this version is superseded; 0 = still live
	left  int32
	right int32
	height int8

	keyLen int32
	key    []byte // len == keyCap, first keyLen bytes significant

	payload []byte // len == payloadCap, caller-owned contents
}

func (n *node) inUse() bool { return n.birth != 0 || n.death != 0 || n.left != 0 || n.right != 0 }

// uberSlot is one entry in the uber ring: a historical {seqid, root} pair.
type uberSlot struct {
	used  bool
	seqid uint64
	root  int32
}

// Page is a fixed-capacity COW-AVL page.
type Page struct {
	keyCap     int
	payloadCap int

	nodes []node
	free  []int32

	ubers     []uberSlot
	curSeqid  uint64 // the seqid of the most recently committed uber
	curUber   int    // index into ubers of the current committed {seqid, root}

	dev    blockdev.Device // optional durable backing store, see AttachDevice
	pageID uint64
}

// NewPage creates an empty page with room for nodeCap nodes, uberCap
// historical versions, keys up to keyCap bytes, and payloads of exactly
// payloadCap bytes (spec's "stride - base" fixed payload size).
func NewPage(nodeCap, uberCap, keyCap, payloadCap int) *Page {
	p := &Page{
		keyCap:     keyCap,
		payloadCap: payloadCap,
		nodes:      make([]node, nodeCap),
		ubers:      make([]uberSlot, uberCap),
	}

	for i := nodeCap - 1; i >= 0; i-- {
		p.free = append(p.free, int32(i))
	}

	// Install the initial empty uber at seqid 1.
	p.curSeqid = 1
	p.ubers[0] = uberSlot{used: true, seqid: 1, root: nilIdx}
	p.curUber = 0

	return p
}

func (p *Page) rootAt(seqid uint64) (int32, bool) {
	if seqid == 0 {
		return p.ubers[p.curUber].root, true
	}

	for i := range p.ubers {
		if p.ubers[i].used && p.ubers[i].seqid == seqid {
			return p.ubers[i].root, true
		}
	}

	return 0, false
}

func (p *Page) alloc() (int32, error) {
	if len(p.free) == 0 {
		return 0, errs.New(errs.ErrPageFull)
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	p.nodes[idx] = node{
		key:     make([]byte, p.keyCap),
		payload: make([]byte, p.payloadCap),
	}

	return idx, nil
}

func (p *Page) freeNode(idx int32) {
	p.nodes[idx] = node{}
	p.free = append(p.free, idx)
}

// encodeHeader serializes the page header, mirroring slotcache's
// encodeHeader/CRC convention (CRC computed with the CRC field zeroed).
func (p *Page) encodeHeader() []byte {
	buf := make([]byte, pageHeaderSize)

	copy(buf[offMagic:], pageMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], pageVersion)
	binary.LittleEndian.PutUint32(buf[offKeyCap:], uint32(p.keyCap))
	binary.LittleEndian.PutUint32(buf[offPayloadCap:], uint32(p.payloadCap))
	binary.LittleEndian.PutUint32(buf[offNodeCap:], uint32(len(p.nodes)))
	binary.LittleEndian.PutUint32(buf[offUberCap:], uint32(len(p.ubers)))
	binary.LittleEndian.PutUint64(buf[offCurSeqid64:], p.curSeqid)

	crc := crc32.Checksum(buf[:offCRC32C], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[offCRC32C:], crc)

	return buf
}
