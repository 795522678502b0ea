// Package policycache is the process-wide compiled-policy cache mentioned
// in spec §9 ("Global state... (c) the policy compiler cache"). It is a
// convenience cache only: entries are never part of the hash chain and
// never substitute for recompiling policy when its source changes. It
// persists using CBOR (github.com/fxamacker/cbor/v2, as the teacher's
// core/planfmt package uses for its own non-canonical convenience paths),
// deliberately distinct from the kernel's canonical binary codec used for
// hashed, replay-sensitive state.
package policycache

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// Entry is one cached compiled policy: the serialized form produced by the
// policy package's own (non-canonical) marshaling, keyed by the hash of the
// policy's source bytes.
type Entry struct {
	SourceHash hashid.Hash
	Compiled   []byte
}

type fileFormat struct {
	Entries []Entry `cbor:"entries"`
}

// Cache is a process-wide, single-owner cache of compiled policies. Its
// lifecycle is scoped to the engine process: constructed before the first
// run, optionally flushed to disk after the last (spec §9 global state).
type Cache struct {
	mu      sync.RWMutex
	entries map[hashid.Hash][]byte
	path    string
}

// New creates an empty in-memory cache with no backing file.
func New() *Cache {
	return &Cache{entries: make(map[hashid.Hash][]byte)}
}

// Open loads a cache from path if it exists, or creates an empty cache
// backed by that path for a future Flush.
func Open(path string) (*Cache, error) {
	c := &Cache{entries: make(map[hashid.Hash][]byte), path: path}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var ff fileFormat
	if err := cbor.Unmarshal(b, &ff); err != nil {
		return nil, err
	}
	for _, e := range ff.Entries {
		c.entries[e.SourceHash] = e.Compiled
	}
	return c, nil
}

// Get returns the cached compiled form for sourceHash, if present.
func (c *Cache) Get(sourceHash hashid.Hash) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[sourceHash]
	return b, ok
}

// Put stores the compiled form for sourceHash.
func (c *Cache) Put(sourceHash hashid.Hash, compiled []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(compiled))
	copy(cp, compiled)
	c.entries[sourceHash] = cp
}

// Flush persists the cache to its backing path, if one was given via Open.
// A no-op for caches created with New.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return nil
	}
	ff := fileFormat{Entries: make([]Entry, 0, len(c.entries))}
	for h, b := range c.entries {
		ff.Entries = append(ff.Entries, Entry{SourceHash: h, Compiled: b})
	}
	b, err := cbor.Marshal(ff)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
