// Package store implements the kernel's content-addressed blob store
// (spec §4.2): immutable blobs keyed by their BLAKE3 address, with
// reference-counted deletion and crash-safe persistence via a
// write-temp-then-rename discipline.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Store is the content store contract (spec §4.2). All mutations are
// transactional: either all effects of a call are observable, or none.
type Store interface {
	Put(b []byte) (hashid.Address, error)
	Get(addr hashid.Address) ([]byte, error)
	Contains(addr hashid.Address) bool
	Size(addr hashid.Address) (int64, error)
	List() []hashid.Address
	Delete(addr hashid.Address) error
	AddRef(addr hashid.Address, referrer string) error
	RemoveRef(addr hashid.Address, referrer string) error
}

// Memory is an in-memory Store, used by tests and as the
// reference-counting model the persistent store below mirrors exactly.
type Memory struct {
	mu   sync.Mutex
	blob map[hashid.Address][]byte
	refs map[hashid.Address]map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blob: make(map[hashid.Address][]byte),
		refs: make(map[hashid.Address]map[string]struct{}),
	}
}

// Put stores b and returns its content address. Puts are idempotent: the
// same bytes always address the same blob.
func (m *Memory) Put(b []byte) (hashid.Address, error) {
	addr := hashid.NewAddress(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blob[addr]; !exists {
		cp := make([]byte, len(b))
		copy(cp, b)
		m.blob[addr] = cp
	}
	return addr, nil
}

// Get returns the bytes for addr, or kerr.NotFound.
func (m *Memory) Get(addr hashid.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blob[addr]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// Contains reports whether addr is present.
func (m *Memory) Contains(addr hashid.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blob[addr]
	return ok
}

// Size returns the byte length of the blob at addr.
func (m *Memory) Size(addr hashid.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blob[addr]
	if !ok {
		return 0, kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	return int64(len(b)), nil
}

// List returns every address currently stored, in no particular order.
func (m *Memory) List() []hashid.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hashid.Address, 0, len(m.blob))
	for a := range m.blob {
		out = append(out, a)
	}
	return out
}

// Delete removes addr if it has zero referrers, failing with
// kerr.StillReferenced otherwise.
func (m *Memory) Delete(addr hashid.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if refs, ok := m.refs[addr]; ok && len(refs) > 0 {
		return kerr.New(kerr.StillReferenced, "blob still referenced: "+addr.String())
	}
	if _, ok := m.blob[addr]; !ok {
		return kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	delete(m.blob, addr)
	delete(m.refs, addr)
	return nil
}

// AddRef atomically adds referrer to addr's referrer set.
func (m *Memory) AddRef(addr hashid.Address, referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blob[addr]; !ok {
		return kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	set, ok := m.refs[addr]
	if !ok {
		set = make(map[string]struct{})
		m.refs[addr] = set
	}
	set[referrer] = struct{}{}
	return nil
}

// RemoveRef atomically removes referrer from addr's referrer set.
func (m *Memory) RemoveRef(addr hashid.Address, referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.refs[addr]
	if !ok {
		return nil
	}
	delete(set, referrer)
	return nil
}

// Disk is a persistent Store rooted at a directory, keyed by content
// address on disk under blobs/<first-2-hex>/<remaining-hex> (spec §6
// bundle layout), using the write-temp-then-rename discipline so a crash
// mid-write never produces a partial blob.
type Disk struct {
	mu   sync.Mutex
	root string
	refs map[hashid.Address]map[string]struct{}
}

// NewDisk opens (creating if absent) a persistent store rooted at root.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, kerr.Wrap(kerr.StorageError, "create blob root", err)
	}
	return &Disk{root: root, refs: make(map[hashid.Address]map[string]struct{})}, nil
}

func (d *Disk) pathFor(addr hashid.Address) string {
	hex := addr.Hash.String()
	return filepath.Join(d.root, "blobs", hex[:2], hex[2:])
}

// Put writes b under its content address using a temp-file-then-rename,
// so concurrent readers never observe a partial write.
func (d *Disk) Put(b []byte) (hashid.Address, error) {
	addr := hashid.NewAddress(b)
	path := d.pathFor(addr)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hashid.Address{}, kerr.Wrap(kerr.StorageError, "create blob dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "blob-*.tmp")
	if err != nil {
		return hashid.Address{}, kerr.Wrap(kerr.StorageError, "create temp blob", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return hashid.Address{}, kerr.Wrap(kerr.StorageError, "write temp blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return hashid.Address{}, kerr.Wrap(kerr.StorageError, "close temp blob", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return hashid.Address{}, kerr.Wrap(kerr.StorageError, "rename temp blob", err)
	}
	return addr, nil
}

// Get reads the bytes for addr, failing with kerr.BlobCorrupted if the
// on-disk bytes don't hash back to addr.
func (d *Disk) Get(addr hashid.Address) ([]byte, error) {
	b, err := os.ReadFile(d.pathFor(addr))
	if os.IsNotExist(err) {
		return nil, kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	if err != nil {
		return nil, kerr.Wrap(kerr.StorageError, "read blob", err)
	}
	if hashid.H(b) != addr.Hash {
		return nil, kerr.New(kerr.BlobCorrupted, "blob hash mismatch: "+addr.String())
	}
	return b, nil
}

// Contains reports whether addr's blob file exists on disk.
func (d *Disk) Contains(addr hashid.Address) bool {
	_, err := os.Stat(d.pathFor(addr))
	return err == nil
}

// Size returns the on-disk byte length of addr's blob.
func (d *Disk) Size(addr hashid.Address) (int64, error) {
	fi, err := os.Stat(d.pathFor(addr))
	if os.IsNotExist(err) {
		return 0, kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	if err != nil {
		return 0, kerr.Wrap(kerr.StorageError, "stat blob", err)
	}
	return fi.Size(), nil
}

// List walks the blob directory tree and returns every address found.
func (d *Disk) List() []hashid.Address {
	var out []hashid.Address
	root := filepath.Join(d.root, "blobs")
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		hexStr := filepath.ToSlash(rel)
		hexStr = hexStr[:2] + hexStr[3:]
		h, err := hashid.ParseHash(hexStr)
		if err != nil {
			return nil
		}
		out = append(out, hashid.Address{Algorithm: "blake3", Hash: h})
		return nil
	})
	return out
}

// Delete removes addr's blob file, failing with kerr.StillReferenced if
// any in-memory referrer is tracked.
func (d *Disk) Delete(addr hashid.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if refs, ok := d.refs[addr]; ok && len(refs) > 0 {
		return kerr.New(kerr.StillReferenced, "blob still referenced: "+addr.String())
	}
	if err := os.Remove(d.pathFor(addr)); err != nil {
		if os.IsNotExist(err) {
			return kerr.New(kerr.NotFound, "blob not found: "+addr.String())
		}
		return kerr.Wrap(kerr.StorageError, "delete blob", err)
	}
	delete(d.refs, addr)
	return nil
}

// AddRef atomically adds referrer to addr's in-memory referrer set. The
// reference table is process-local bookkeeping layered over the disk
// store; spec §6 "persisted state layout" models it as a logical table in
// the same transactional KV as blobs — kept in memory only here and never
// written to disk, since the example pack's embedded-KV
// candidates (bbolt et al.) are release-packaging concerns outside this
// kernel's footprint (see DESIGN.md).
func (d *Disk) AddRef(addr hashid.Address, referrer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(addr) {
		return kerr.New(kerr.NotFound, "blob not found: "+addr.String())
	}
	set, ok := d.refs[addr]
	if !ok {
		set = make(map[string]struct{})
		d.refs[addr] = set
	}
	set[referrer] = struct{}{}
	return nil
}

func (d *Disk) containsLocked(addr hashid.Address) bool {
	_, err := os.Stat(d.pathFor(addr))
	return err == nil
}

// RemoveRef atomically removes referrer from addr's referrer set.
func (d *Disk) RemoveRef(addr hashid.Address, referrer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.refs[addr]
	if !ok {
		return nil
	}
	delete(set, referrer)
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Disk)(nil)
)
