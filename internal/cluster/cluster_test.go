package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/cluster"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

func TestLocalProposerCommitsInOrder(t *testing.T) {
	p := cluster.NewLocalProposer()
	require.True(t, p.IsLeader())
	require.NoError(t, cluster.RequireLeader(p))

	i1, err := p.Propose(cluster.Entry{RunID: kernel.NewID("run"), Payload: []byte("a")})
	require.NoError(t, err)
	i2, err := p.Propose(cluster.Entry{RunID: kernel.NewID("run"), Payload: []byte("b")})
	require.NoError(t, err)
	require.Less(t, i1, i2)
}

func TestLivenessTrackerTransitions(t *testing.T) {
	lt := cluster.NewLivenessTracker(cluster.LivenessConfig{
		HeartbeatIntervalLogical: 5,
		SuspectAfterLogical:      15,
		DownAfterLogical:         45,
	})
	w := kernel.NewID("worker")
	lt.Heartbeat(w, 100)

	require.Equal(t, snapshot.WorkerIdle, lt.StatusAt(w, 101))    // just heartbeat, elapsed 1
	require.Equal(t, snapshot.WorkerSuspect, lt.StatusAt(w, 116)) // elapsed 16 >= 15 -> Suspect
	require.Equal(t, snapshot.WorkerDown, lt.StatusAt(w, 146))    // elapsed 46 >= 45 -> Down
}

func TestDownWorkersFiltersCandidates(t *testing.T) {
	lt := cluster.NewLivenessTracker(cluster.LivenessConfig{HeartbeatIntervalLogical: 5, SuspectAfterLogical: 15, DownAfterLogical: 45})
	alive := kernel.NewID("worker")
	dead := kernel.NewID("worker")
	lt.Heartbeat(alive, 100)
	lt.Heartbeat(dead, 10)

	down := lt.DownWorkers([]kernel.ID{alive, dead}, 100)
	require.Equal(t, []kernel.ID{dead}, down)
}
