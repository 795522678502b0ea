package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/codec"
)

// fixtureValue exercises every primitive shape the canonical codec
// supports, mirroring the teacher's determinism_test.go approach of
// round-tripping representative fixtures rather than exhaustive grids.
type fixtureValue struct {
	Flag    bool
	Small   uint8
	Count   uint32
	Big     uint64
	Name    string
	Payload []byte
	Tag     uint32 // discriminant
	Items   []string
	Pairs   map[string]string
	HasOpt  bool
	Opt     uint64
}

func (f fixtureValue) MarshalCanonical(w *codec.Writer) {
	w.Bool(f.Flag)
	w.U8(f.Small)
	w.U32(f.Count)
	w.U64(f.Big)
	w.String(f.Name)
	w.ByteString(f.Payload)
	w.Discriminant(f.Tag)
	w.SeqHeader(len(f.Items))
	for _, it := range f.Items {
		w.String(it)
	}
	entries := make([]codec.MapEntry, 0, len(f.Pairs))
	for k, v := range f.Pairs {
		kw := codec.NewWriter()
		kw.String(k)
		vw := codec.NewWriter()
		vw.String(v)
		entries = append(entries, codec.MapEntry{KeyBytes: kw.Bytes(), ValueBytes: vw.Bytes()})
	}
	w.Map(entries)
	codec.EncodeOptionalBytes(w, f.HasOpt, func(w *codec.Writer) { w.U64(f.Opt) })
}

func (f *fixtureValue) UnmarshalCanonical(r *codec.Reader) error {
	var err error
	if f.Flag, err = r.Bool(); err != nil {
		return err
	}
	if f.Small, err = r.U8(); err != nil {
		return err
	}
	if f.Count, err = r.U32(); err != nil {
		return err
	}
	if f.Big, err = r.U64(); err != nil {
		return err
	}
	if f.Name, err = r.String(); err != nil {
		return err
	}
	if f.Payload, err = r.ByteString(); err != nil {
		return err
	}
	if f.Tag, err = r.Discriminant(); err != nil {
		return err
	}
	n, err := r.SeqHeader()
	if err != nil {
		return err
	}
	f.Items = make([]string, n)
	for i := 0; i < n; i++ {
		if f.Items[i], err = r.String(); err != nil {
			return err
		}
	}
	pairCount, err := r.SeqHeader()
	if err != nil {
		return err
	}
	f.Pairs = make(map[string]string, pairCount)
	for i := 0; i < pairCount; i++ {
		k, err := r.String()
		if err != nil {
			return err
		}
		v, err := r.String()
		if err != nil {
			return err
		}
		f.Pairs[k] = v
	}
	f.HasOpt, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		f.Opt, err = r.U64()
		return err
	})
	return err
}

func sampleFixture() fixtureValue {
	return fixtureValue{
		Flag:    true,
		Small:   7,
		Count:   42,
		Big:     1 << 40,
		Name:    "node-a",
		Payload: []byte{0x01, 0x02, 0x03},
		Tag:     3,
		Items:   []string{"b", "a", "c"},
		Pairs:   map[string]string{"zeta": "1", "alpha": "2", "mu": "3"},
		HasOpt:  true,
		Opt:     99,
	}
}

// P1: encode∘decode = identity, for all well-typed values.
func TestRoundTripIdentity(t *testing.T) {
	v := sampleFixture()
	b := codec.Encode(&v)

	var got fixtureValue
	require.NoError(t, codec.Decode(b, &got))
	require.Equal(t, v, got)
}

// P1 (continued): re-encoding a decoded value yields byte-identical output.
func TestReencodeIsByteIdentical(t *testing.T) {
	v := sampleFixture()
	b1 := codec.Encode(&v)

	var decoded fixtureValue
	require.NoError(t, codec.Decode(b1, &decoded))

	b2 := codec.Encode(&decoded)
	require.True(t, bytes.Equal(b1, b2))
}

// Encoding the same value twice is deterministic.
func TestEncodeIsDeterministic(t *testing.T) {
	v := sampleFixture()
	require.Equal(t, codec.Encode(&v), codec.Encode(&v))
}

// Map keys must be sorted by their canonical-encoded bytes regardless of
// Go map iteration order.
func TestMapKeysSortedByEncodedBytes(t *testing.T) {
	v := sampleFixture()
	b := codec.Encode(&v)

	var got fixtureValue
	require.NoError(t, codec.Decode(b, &got))
	require.Equal(t, []string{"alpha", "mu", "zeta"}, sortedKeys(got.Pairs))

	// Each key is encoded as a u32 length then its bytes, so the encoded
	// order is "mu" (length 2), "zeta" (length 4), "alpha" (length 5).
	iMu := bytes.Index(b, []byte("\x00\x00\x00\x02mu"))
	iZeta := bytes.Index(b, []byte("\x00\x00\x00\x04zeta"))
	iAlpha := bytes.Index(b, []byte("\x00\x00\x00\x05alpha"))
	require.True(t, iMu >= 0 && iMu < iZeta && iZeta < iAlpha)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func TestAbsentOptionalRoundTrips(t *testing.T) {
	v := sampleFixture()
	v.HasOpt = false
	v.Opt = 0
	b := codec.Encode(&v)

	var got fixtureValue
	require.NoError(t, codec.Decode(b, &got))
	require.False(t, got.HasOpt)
}

func TestTruncatedBufferFailsWithInvalidEncoding(t *testing.T) {
	v := sampleFixture()
	b := codec.Encode(&v)

	var got fixtureValue
	err := codec.Decode(b[:len(b)-1], &got)
	require.Error(t, err)
}

func TestOversizeLengthFailsWithEncodingOverflow(t *testing.T) {
	w := codec.NewWriter()
	w.U32(codec.MaxLength + 1)
	r := codec.NewReader(w.Bytes())
	_, err := r.ByteString()
	require.Error(t, err)
}
