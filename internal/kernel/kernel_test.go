package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/kernel"
)

func TestIDTextualRoundTrip(t *testing.T) {
	id := kernel.NewID("run")
	parsed, err := kernel.ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.Equal(t, "run", parsed.Prefix())
}

func TestIDFromBytesIsDeterministic(t *testing.T) {
	var b [16]byte
	copy(b[:], []byte("0123456789abcdef"))
	a := kernel.IDFromBytes("node", b)
	c := kernel.IDFromBytes("node", b)
	require.Equal(t, a, c)
	require.Equal(t, a.String(), c.String())
}

func TestParseIDRejectsMalformed(t *testing.T) {
	_, err := kernel.ParseID("not-an-id")
	require.Error(t, err)

	_, err = kernel.ParseID("run_zz")
	require.Error(t, err)
}

func TestZeroIDIsZero(t *testing.T) {
	var zero kernel.ID
	require.True(t, zero.IsZero())
	require.False(t, kernel.NewID("run").IsZero())
}

// P4: logical time is strictly increasing and never wraps backward via
// Next.
func TestLogicalTimeOrdering(t *testing.T) {
	var t0 kernel.LogicalTime
	t1 := t0.Next()
	t2 := t1.Next()
	require.True(t, t0.Before(t1))
	require.True(t, t1.Before(t2))
	require.False(t, t2.Before(t1))
	require.Equal(t, kernel.LogicalTime(1), t1)
	require.Equal(t, kernel.LogicalTime(2), t2)
}

func TestResourceBoundsLessEq(t *testing.T) {
	granted := kernel.ResourceBounds{Fuel: 1000, Memory: 16, CPU: 10}
	require.True(t, kernel.ResourceBounds{Fuel: 1000, Memory: 16, CPU: 10}.LessEq(granted))
	require.True(t, kernel.ResourceBounds{Fuel: 500, Memory: 8, CPU: 1}.LessEq(granted))
	require.False(t, kernel.ResourceBounds{Fuel: 1001, Memory: 16, CPU: 10}.LessEq(granted))
	require.False(t, kernel.ResourceBounds{Fuel: 1000, Memory: 17, CPU: 10}.LessEq(granted))
}

func TestCapabilitySetFind(t *testing.T) {
	set := kernel.NewCapabilitySet(
		kernel.Capability{Kind: kernel.CapNetRead, HostAllowlist: []string{"*.example.com"}},
	)
	cap, ok := set.Find(kernel.CapNetRead)
	require.True(t, ok)
	require.Equal(t, []string{"*.example.com"}, cap.HostAllowlist)

	_, ok = set.Find(kernel.CapNetWrite)
	require.False(t, ok)
}

func TestCapabilityKindStringIsStable(t *testing.T) {
	require.Equal(t, "NetRead", kernel.CapNetRead.String())
	require.Equal(t, "WasmExec", kernel.CapWasmExec.String())
	require.Equal(t, "Unknown", kernel.CapabilityKind(0).String())
}
