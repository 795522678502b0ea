package eventlog

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Magic is the 7-byte file magic for the on-disk event log format (spec
// §4.3, §6).
const Magic = "CATHLOG"

// FormatVersion is the current on-disk format version.
const FormatVersion uint32 = 1

// maxRecordLength bounds a single encoded event record to guard against a
// corrupt length field driving an unbounded allocation.
const maxRecordLength = 64 << 20

// WriteTo serializes the log to w in the on-disk format:
//
//	magic "CATHLOG"(7) | u32 BE version | u32 BE event count |
//	count * (u32 BE encoded_length | encoded bytes)
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	var written int64

	n, err := io.WriteString(w, Magic)
	written += int64(n)
	if err != nil {
		return written, kerr.Wrap(kerr.StorageError, "write magic", err)
	}

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], FormatVersion)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(l.events)))
	n, err = w.Write(hdr[:])
	written += int64(n)
	if err != nil {
		return written, kerr.Wrap(kerr.StorageError, "write header", err)
	}

	for _, e := range l.events {
		encoded := codec.Encode(e)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
		n, err = w.Write(lenBuf[:])
		written += int64(n)
		if err != nil {
			return written, kerr.Wrap(kerr.StorageError, "write record length", err)
		}
		n, err = w.Write(encoded)
		written += int64(n)
		if err != nil {
			return written, kerr.Wrap(kerr.StorageError, "write record", err)
		}
	}
	return written, nil
}

// ReadFrom parses the on-disk format from r into a fresh Log. It does not
// validate the hash chain — callers should call Validate() afterward
// (keeping parsing and validation independently testable, per the
// teacher's planfmt Reader precedent).
func ReadFrom(r io.Reader) (*Log, error) {
	var magic [7]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, kerr.Wrap(kerr.BundleCorrupted, "read magic", err)
	}
	if string(magic[:]) != Magic {
		return nil, kerr.New(kerr.BundleCorrupted, "bad magic: "+string(magic[:]))
	}

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, kerr.Wrap(kerr.BundleCorrupted, "read header", err)
	}
	version := binary.BigEndian.Uint32(hdr[0:4])
	if version != FormatVersion {
		return nil, kerr.New(kerr.BundleCorrupted, "unsupported event log version")
	}
	count := binary.BigEndian.Uint32(hdr[4:8])

	log := New()
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, kerr.Wrap(kerr.BundleCorrupted, "read record length (truncated log)", err)
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		if recLen > maxRecordLength {
			return nil, kerr.New(kerr.EncodingOverflow, "event record exceeds max length")
		}
		rec := make([]byte, recLen)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, kerr.Wrap(kerr.BundleCorrupted, "read record (truncated log)", err)
		}
		var e Event
		if err := codec.Decode(rec, &e); err != nil {
			return nil, kerr.Wrap(kerr.InvalidEncoding, "decode event record", err)
		}
		log.idToIndex[e.EventID] = len(log.events)
		log.events = append(log.events, e)
	}
	return log, nil
}

// Index is the optional sidecar mapping event_id -> byte offset, built by
// sorting id/offset pairs so lookups can binary-search (spec §4.3).
type Index struct {
	entries []indexEntry
}

type indexEntry struct {
	id     kernel.ID
	offset int64
}

// BuildIndex computes byte offsets for every event as it would appear in
// the on-disk format, without requiring the caller to re-parse bytes.
func BuildIndex(l *Log) *Index {
	idx := &Index{entries: make([]indexEntry, 0, len(l.events))}
	offset := int64(len(Magic) + 8)
	for _, e := range l.events {
		idx.entries = append(idx.entries, indexEntry{id: e.EventID, offset: offset})
		offset += 4 + int64(len(codec.Encode(e)))
	}
	sort.Slice(idx.entries, func(i, j int) bool {
		return less16(idx.entries[i].id.Bytes(), idx.entries[j].id.Bytes())
	})
	return idx
}

func less16(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Offset performs a binary search for id's byte offset.
func (idx *Index) Offset(id kernel.ID) (int64, bool) {
	key := id.Bytes()
	i := sort.Search(len(idx.entries), func(i int) bool {
		return !less16(idx.entries[i].id.Bytes(), key)
	})
	if i < len(idx.entries) && idx.entries[i].id == id {
		return idx.entries[i].offset, true
	}
	return 0, false
}
