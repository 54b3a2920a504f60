// Package blockdev implements the block-device collaborator of spec §6:
// an external store exposing read/write/sync primitives that the core
// treats as opaque. RaleighDB does not mandate a file format beyond the
// self-describing COW-AVL page ([internal/avlpage]) and bucket-variable
// block ([internal/sset]) layouts; blockdev only moves bytes for a given
// page ID durably.
//
// [FileDevice] is the production implementation: one file per page,
// written via an atomic temp-file-then-rename so a crash mid-write never
// leaves a torn page, grounded on the teacher's durable-write helper
// (agent-task's pkg/fs/atomic_write.go) but delegating the rename dance
// itself to the already-vetted github.com/natefinch/atomic package rather
// than reimplementing it. [MemDevice] is an in-memory fake for tests,
// grounded on the fault-injection-wrapper shape of the teacher's
// pkg/fs/chaos.go (a thin decorator around a map of byte slices that can
// be told to fail on command).
package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	natefinchatomic "github.com/natefinch/atomic"
)

// ErrShortRead indicates a page file was smaller than requested.
var ErrShortRead = errors.New("blockdev: short read")

// Device is the block-device collaborator: read/write/sync by page ID.
// Implementations must be safe for concurrent use.
type Device interface {
	// ReadPage returns the bytes previously written for id, or
	// os.ErrNotExist (wrapped) if nothing has been written yet.
	ReadPage(id uint64) ([]byte, error)

	// WritePage durably replaces the bytes for id.
	WritePage(id uint64, data []byte) error

	// Sync ensures all prior WritePage calls are durable. For per-call
	// durable backends (like FileDevice, which fsyncs on every write)
	// this may be a no-op.
	Sync() error

	// Close releases any resources held by the device.
	Close() error
}

// FileDevice stores each page as its own file "page-<id>" under dir.
type FileDevice struct {
	dir string
}

// NewFileDevice opens (creating if necessary) a page directory at dir.
func NewFileDevice(dir string) (*FileDevice, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blockdev: create page dir: %w", err)
	}

	return &FileDevice{dir: dir}, nil
}

func (d *FileDevice) pagePath(id uint64) string {
	return filepath.Join(d.dir, fmt.Sprintf("page-%d", id))
}

// ReadPage implements Device.
func (d *FileDevice) ReadPage(id uint64) ([]byte, error) {
	data, err := os.ReadFile(d.pagePath(id))
	if err != nil {
		return nil, fmt.Errorf("blockdev: read page %d: %w", id, err)
	}

	return data, nil
}

// WritePage implements Device. It writes via a temp file + rename + fsync
// so a reader never observes a partially-written page (matching the
// durability story of pkg/fs/atomic_write.go in the teacher, here provided
// by the vetted natefinch/atomic library).
func (d *FileDevice) WritePage(id uint64, data []byte) error {
	path := d.pagePath(id)

	if err := natefinchatomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("blockdev: write page %d: %w", id, err)
	}

	return nil
}

// Sync implements Device. Each WritePage is already durable on return
// (natefinch/atomic fsyncs the temp file before renaming), so this is a
// no-op kept for interface symmetry with devices that batch writes.
func (d *FileDevice) Sync() error { return nil }

// Close implements Device. FileDevice holds no open handles between
// calls, so this is a no-op.
func (d *FileDevice) Close() error { return nil }

// MemDevice is an in-memory Device for unit tests. It supports injecting
// a failure on the next N write calls, mirroring the teacher's
// fault-injection philosophy in pkg/fs/chaos.go without carrying over its
// much larger crash-consistency simulation machinery (this module has no
// durable-log-structured-commit-log goal — spec §1 Non-goals — so there
// is nothing here to crash-test beyond "did the write error propagate").
type MemDevice struct {
	mu        sync.Mutex
	pages     map[uint64][]byte
	failNext  int
	failErr   error
}

// NewMemDevice returns an empty in-memory device.
func NewMemDevice() *MemDevice {
	return &MemDevice{pages: make(map[uint64][]byte)}
}

// FailNextWrites arms the device to fail the next n WritePage calls with
// err.
func (d *MemDevice) FailNextWrites(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failNext = n
	d.failErr = err
}

// ReadPage implements Device.
func (d *MemDevice) ReadPage(id uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, ok := d.pages[id]
	if !ok {
		return nil, fmt.Errorf("blockdev: read page %d: %w", id, os.ErrNotExist)
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	return cp, nil
}

// WritePage implements Device.
func (d *MemDevice) WritePage(id uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext > 0 {
		d.failNext--

		return d.failErr
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	d.pages[id] = cp

	return nil
}

// Sync implements Device; MemDevice has nothing to flush.
func (d *MemDevice) Sync() error { return nil }

// Close implements Device; MemDevice holds no external resources.
func (d *MemDevice) Close() error { return nil }

// ReadFixedPage reads id from d and validates it is at least size bytes,
// the shape every fixed-size page format in this module (COW-AVL pages,
// bucket-variable blocks) requires. A page shorter than size indicates a
// truncated or corrupt write; ReadFixedPage reports that as ErrShortRead
// rather than handing a short buffer to a decoder that assumes a fixed
// layout. A page longer than size is returned unchanged.
func ReadFixedPage(d Device, id uint64, size int) ([]byte, error) {
	data, err := d.ReadPage(id)
	if err != nil {
		return nil, err
	}

	if len(data) < size {
		return nil, fmt.Errorf("blockdev: page %d: %w (got %d, want %d)", id, ErrShortRead, len(data), size)
	}

	return data, nil
}
