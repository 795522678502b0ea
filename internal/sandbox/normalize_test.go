package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
)

// P10: normalize is pure, and differently-ordered-but-equal JSON inputs
// normalize to byte-identical output.
func TestNormalizeJSONSortsKeys(t *testing.T) {
	a, err := sandbox.Normalize(sandbox.FormJSON, []byte(`{"b":1,"a":2}`), nil)
	require.NoError(t, err)
	b, err := sandbox.Normalize(sandbox.FormJSON, []byte(`{"a":2,"b":1}`), nil)
	require.NoError(t, err)

	require.Equal(t, a.Bytes, b.Bytes)
	require.Equal(t, a.Hash, b.Hash)
	require.Equal(t, hashid.H(a.Bytes), a.Hash)
}

func TestNormalizeJSONNested(t *testing.T) {
	out, err := sandbox.Normalize(sandbox.FormJSON, []byte(`{"z":{"y":1,"x":2},"a":[3,2,1]}`), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":[3,2,1],"z":{"x":2,"y":1}}`, string(out.Bytes))
}

func TestNormalizeJSONRejectsInvalidInput(t *testing.T) {
	_, err := sandbox.Normalize(sandbox.FormJSON, []byte(`not json`), nil)
	require.Error(t, err)
}

func TestNormalizeBinaryPassesThrough(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10, 0x02}
	out, err := sandbox.Normalize(sandbox.FormBinary, raw, nil)
	require.NoError(t, err)
	require.Equal(t, raw, out.Bytes)
	require.Equal(t, hashid.H(raw), out.Hash)
}

func TestNormalizeCustomAppliesFunc(t *testing.T) {
	upper := func(raw []byte) ([]byte, error) {
		out := make([]byte, len(raw))
		for i, c := range raw {
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			out[i] = c
		}
		return out, nil
	}
	out, err := sandbox.Normalize(sandbox.FormCustom, []byte("hello"), upper)
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), out.Bytes)
}

func TestNormalizeCustomRequiresFunc(t *testing.T) {
	_, err := sandbox.Normalize(sandbox.FormCustom, []byte("hello"), nil)
	require.Error(t, err)
}
