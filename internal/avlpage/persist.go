package avlpage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/calvinalkan/raleighdb/internal/blockdev"
)

// nodeRecordSize is one node pool slot's encoded size: birth(8) +
// death(8) + left(4) + right(4) + height(1) + keyLen(4) + key(keyCap) +
// payload(payloadCap).
func nodeRecordSize(keyCap, payloadCap int) int {
	return 8 + 8 + 4 + 4 + 1 + 4 + keyCap + payloadCap
}

// uberRecordSize is one uber ring slot's encoded size: used(1) +
// seqid(8) + root(4).
const uberRecordSize = 1 + 8 + 4

// encodedPageSize is the total on-disk footprint for a page of the given
// shape: header, every node slot, every uber slot, and a trailing
// whole-page CRC32 guarding the variable-length body (the header carries
// its own CRC over just the fixed fields, set by encodeHeader).
func encodedPageSize(nodeCap, uberCap, keyCap, payloadCap int) int {
	return pageHeaderSize + nodeCap*nodeRecordSize(keyCap, payloadCap) + uberCap*uberRecordSize + 4
}

// AttachDevice arms p to persist itself to dev under pageID on every
// committed Txn, the commit-sync hook spec §4.8 leaves the block-device
// collaborator of spec §6 to provide. A page with no attached device
// behaves exactly as before: purely in-memory, Commit never touches I/O.
func (p *Page) AttachDevice(dev blockdev.Device, pageID uint64) {
	p.dev = dev
	p.pageID = pageID
}

// persist writes the page's full current state to its attached device,
// a no-op if none is attached.
func (p *Page) persist() error {
	if p.dev == nil {
		return nil
	}

	return p.dev.WritePage(p.pageID, p.encodeFull())
}

// encodeFull serializes the header, every node pool slot (allocated or
// free — the free list is rebuilt from inUse() on load, so free slots
// are written zeroed rather than tracked separately), and every uber
// slot, followed by a CRC32 over everything written after the header.
func (p *Page) encodeFull() []byte {
	nodeSize := nodeRecordSize(p.keyCap, p.payloadCap)
	buf := make([]byte, encodedPageSize(len(p.nodes), len(p.ubers), p.keyCap, p.payloadCap))

	copy(buf, p.encodeHeader())

	off := pageHeaderSize

	for i := range p.nodes {
		n := &p.nodes[i]
		rec := buf[off : off+nodeSize]

		binary.LittleEndian.PutUint64(rec[0:8], n.birth)
		binary.LittleEndian.PutUint64(rec[8:16], n.death)
		binary.LittleEndian.PutUint32(rec[16:20], uint32(n.left))
		binary.LittleEndian.PutUint32(rec[20:24], uint32(n.right))
		rec[24] = byte(n.height)
		binary.LittleEndian.PutUint32(rec[25:29], uint32(n.keyLen))
		copy(rec[29:29+p.keyCap], n.key)
		copy(rec[29+p.keyCap:], n.payload)

		off += nodeSize
	}

	for i := range p.ubers {
		u := &p.ubers[i]
		rec := buf[off : off+uberRecordSize]

		if u.used {
			rec[0] = 1
		}

		binary.LittleEndian.PutUint64(rec[1:9], u.seqid)
		binary.LittleEndian.PutUint32(rec[9:13], uint32(u.root))

		off += uberRecordSize
	}

	crc := crc32.Checksum(buf[pageHeaderSize:off], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[off:], crc)

	return buf
}

// decodeFull reconstructs a Page from bytes previously produced by
// encodeFull, validating the header magic/version and the trailing CRC.
func decodeFull(data []byte, nodeCap, uberCap, keyCap, payloadCap int) (*Page, error) {
	want := encodedPageSize(nodeCap, uberCap, keyCap, payloadCap)
	if len(data) != want {
		return nil, fmt.Errorf("avlpage: decode: got %d bytes, want %d", len(data), want)
	}

	if string(data[offMagic:offMagic+4]) != pageMagic {
		return nil, errors.New("avlpage: decode: bad magic")
	}

	if binary.LittleEndian.Uint32(data[offVersion:]) != pageVersion {
		return nil, errors.New("avlpage: decode: unsupported version")
	}

	nodeSize := nodeRecordSize(keyCap, payloadCap)
	off := pageHeaderSize
	body := data[pageHeaderSize : pageHeaderSize+nodeCap*nodeSize+uberCap*uberRecordSize]

	gotCRC := binary.LittleEndian.Uint32(data[pageHeaderSize+len(body):])
	wantCRC := crc32.Checksum(body, crc32.MakeTable(crc32.Castagnoli))

	if gotCRC != wantCRC {
		return nil, errors.New("avlpage: decode: checksum mismatch")
	}

	p := &Page{
		keyCap:     keyCap,
		payloadCap: payloadCap,
		nodes:      make([]node, nodeCap),
		ubers:      make([]uberSlot, uberCap),
		curSeqid:   binary.LittleEndian.Uint64(data[offCurSeqid64:]),
	}

	for i := range p.nodes {
		rec := data[off : off+nodeSize]
		n := &p.nodes[i]

		n.birth = binary.LittleEndian.Uint64(rec[0:8])
		n.death = binary.LittleEndian.Uint64(rec[8:16])
		n.left = int32(binary.LittleEndian.Uint32(rec[16:20]))
		n.right = int32(binary.LittleEndian.Uint32(rec[20:24]))
		n.height = int8(rec[24])
		n.keyLen = int32(binary.LittleEndian.Uint32(rec[25:29]))
		n.key = append([]byte(nil), rec[29:29+keyCap]...)
		n.payload = append([]byte(nil), rec[29+keyCap:29+keyCap+payloadCap]...)

		if !n.inUse() {
			p.free = append(p.free, int32(i))
		}

		off += nodeSize
	}

	for i := range p.ubers {
		rec := data[off : off+uberRecordSize]
		u := &p.ubers[i]

		u.used = rec[0] == 1
		u.seqid = binary.LittleEndian.Uint64(rec[1:9])
		u.root = int32(binary.LittleEndian.Uint32(rec[9:13]))

		if u.used && u.seqid == p.curSeqid {
			p.curUber = i
		}

		off += uberRecordSize
	}

	return p, nil
}

// LoadPage reads pageID from dev and reconstructs the page it holds, or
// returns a freshly empty page (already attached to dev) if pageID has
// never been written — the same "absent means empty" convention
// ReadPage's os.ErrNotExist documents.
func LoadPage(dev blockdev.Device, pageID uint64, nodeCap, uberCap, keyCap, payloadCap int) (*Page, error) {
	size := encodedPageSize(nodeCap, uberCap, keyCap, payloadCap)

	data, err := blockdev.ReadFixedPage(dev, pageID, size)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p := NewPage(nodeCap, uberCap, keyCap, payloadCap)
			p.AttachDevice(dev, pageID)

			return p, nil
		}

		return nil, fmt.Errorf("avlpage: load page %d: %w", pageID, err)
	}

	p, err := decodeFull(data, nodeCap, uberCap, keyCap, payloadCap)
	if err != nil {
		return nil, err
	}

	p.AttachDevice(dev, pageID)

	return p, nil
}
