package capability_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/kernel"
)

func TestNetHostWildcardSuffixMatches(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{
		Kind:          kernel.CapNetRead,
		HostAllowlist: []string{"*.example.com"},
	})
	g := capability.New(grants)

	allowed, err := g.Check(capability.Request{Kind: kernel.CapNetRead, Host: "api.example.com"})
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = g.Check(capability.Request{Kind: kernel.CapNetRead, Host: "example.com"})
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = g.Check(capability.Request{Kind: kernel.CapNetRead, Host: "evil.com"})
	require.Error(t, err)
}

func TestNetWildcardAnyHost(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapNetWrite, HostAllowlist: []string{"*"}})
	g := capability.New(grants)

	allowed, err := g.Check(capability.Request{Kind: kernel.CapNetWrite, Host: "anything.test"})
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestFsPrefixIsComponentWise(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapFsRead, PathPrefixes: []string{"/data"}})
	g := capability.New(grants)

	allowed, err := g.Check(capability.Request{Kind: kernel.CapFsRead, Path: "/data/file.txt"})
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = g.Check(capability.Request{Kind: kernel.CapFsRead, Path: "/data2/file.txt"})
	require.Error(t, err)
}

func TestDbExactAllowlist(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapDbRead, Tables: []string{"orders"}})
	g := capability.New(grants)

	_, err := g.Check(capability.Request{Kind: kernel.CapDbRead, Name: "customers"})
	require.Error(t, err)

	allowed, err := g.Check(capability.Request{Kind: kernel.CapDbRead, Name: "orders"})
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestExecBoundsMustNotExceedGrant(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{
		Kind:   kernel.CapExec,
		Bounds: kernel.ResourceBounds{Fuel: 1000, Memory: 16, CPU: 10},
	})
	g := capability.New(grants)

	allowed, err := g.Check(capability.Request{Kind: kernel.CapExec, Bounds: kernel.ResourceBounds{Fuel: 500, Memory: 16, CPU: 10}})
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = g.Check(capability.Request{Kind: kernel.CapExec, Bounds: kernel.ResourceBounds{Fuel: 1001, Memory: 16, CPU: 10}})
	require.Error(t, err)
}

func TestUngrantedKindAlwaysDenied(t *testing.T) {
	g := capability.New(kernel.NewCapabilitySet())
	_, err := g.Check(capability.Request{Kind: kernel.CapNetRead, Host: "anything"})
	require.Error(t, err)
}

// P9: a token bound to one task must never authorize a check for another.
func TestTokenIsNotTransferableAcrossTasks(t *testing.T) {
	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapNetRead, HostAllowlist: []string{"*"}})
	g := capability.New(grants)
	b := capability.NewBinder([]byte("run-secret"))

	runID := kernel.NewID("run")
	nodeID := kernel.NewID("node")
	taskA := kernel.NewID("task")
	taskB := kernel.NewID("task")

	tok := b.Bind(runID, nodeID, taskA)

	allowed, err := g.Authorize(b, tok, runID, nodeID, taskA, capability.Request{Kind: kernel.CapNetRead, Host: "x"})
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = g.Authorize(b, tok, runID, nodeID, taskB, capability.Request{Kind: kernel.CapNetRead, Host: "x"})
	require.Error(t, err)
}

func TestBinderVerifyRejectsForgedToken(t *testing.T) {
	b := capability.NewBinder([]byte("k1"))
	other := capability.NewBinder([]byte("k2"))
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	forged := other.Bind(runID, nodeID, taskID)
	require.False(t, b.Verify(forged, runID, nodeID, taskID))
}
