package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/scheduler"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

func idGenFor(prefix string, n int) func(string) kernel.ID {
	i := 0
	return func(p string) kernel.ID {
		i++
		var b [16]byte
		b[15] = byte(i)
		return kernel.IDFromBytes(p, b)
	}
}

func TestEmptyDAGProducesNoDecisions(t *testing.T) {
	d := dag.New(nil, nil)
	s := scheduler.New(d, nil, scheduler.Config{}, idGenFor("task", 1))
	_, ok := s.NextDecision(1)
	require.False(t, ok)
}

func TestSingleNodeNoWorkersReturnsNoneIndefinitely(t *testing.T) {
	a := kernel.NewID("node")
	d := dag.New([]dag.Node{{ID: a, Name: "A"}}, nil)
	s := scheduler.New(d, []kernel.ID{a}, scheduler.Config{}, idGenFor("task", 1))

	for i := 0; i < 3; i++ {
		_, ok := s.NextDecision(kernel.LogicalTime(i + 1))
		require.False(t, ok)
	}
}

func TestLinearPipelineSingleWorker(t *testing.T) {
	a, b, c := kernel.NewID("node"), kernel.NewID("node"), kernel.NewID("node")
	d := dag.New(
		[]dag.Node{{ID: a, Name: "A"}, {ID: b, Name: "B"}, {ID: c, Name: "C"}},
		[]dag.Edge{{From: a, To: b}, {From: b, To: c}},
	)
	s := scheduler.New(d, []kernel.ID{a, b, c}, scheduler.Config{Strategy: scheduler.RoundRobin}, idGenFor("task", 1))
	w1 := kernel.NewID("worker")
	s.AddWorker(scheduler.Worker{ID: w1, Status: snapshot.WorkerIdle})

	decA, ok := s.NextDecision(1)
	require.True(t, ok)
	require.Equal(t, a, decA.NodeID)
	require.Equal(t, w1, decA.WorkerID)

	newlyReady := s.MarkCompleted(a)
	require.Equal(t, []kernel.ID{b}, newlyReady)

	decB, ok := s.NextDecision(2)
	require.True(t, ok)
	require.Equal(t, b, decB.NodeID)

	s.MarkCompleted(b)
	decC, ok := s.NextDecision(3)
	require.True(t, ok)
	require.Equal(t, c, decC.NodeID)
}

func buildFanout(t *testing.T) (*dag.DAG, kernel.ID, kernel.ID, kernel.ID, kernel.ID) {
	t.Helper()
	a, b, c, dNode := kernel.NewID("node"), kernel.NewID("node"), kernel.NewID("node"), kernel.NewID("node")
	g := dag.New(
		[]dag.Node{{ID: a, Name: "A"}, {ID: b, Name: "B"}, {ID: c, Name: "C"}, {ID: dNode, Name: "D"}},
		[]dag.Edge{{From: a, To: b}, {From: a, To: c}, {From: b, To: dNode}, {From: c, To: dNode}},
	)
	return g, a, b, c, dNode
}

func TestFanoutFaninLeastLoadedDeterministic(t *testing.T) {
	runOnce := func() []kernel.ID {
		d, a, _, _, dNode := buildFanout(t)
		s := scheduler.New(d, []kernel.ID{a}, scheduler.Config{Strategy: scheduler.LeastLoaded}, idGenFor("task", 1))

		var wb [16]byte
		wb[15] = 1
		w1 := kernel.IDFromBytes("worker", wb)
		wb[15] = 2
		w2 := kernel.IDFromBytes("worker", wb)
		if idLess(w2, w1) {
			w1, w2 = w2, w1
		}
		s.AddWorker(scheduler.Worker{ID: w1, Status: snapshot.WorkerIdle})
		s.AddWorker(scheduler.Worker{ID: w2, Status: snapshot.WorkerIdle})

		var assigned []kernel.ID
		decA, ok := s.NextDecision(1)
		require.True(t, ok)
		assigned = append(assigned, decA.WorkerID)
		s.MarkCompleted(decA.NodeID)

		dec1, ok := s.NextDecision(2)
		require.True(t, ok)
		assigned = append(assigned, dec1.WorkerID)

		dec2, ok := s.NextDecision(3)
		require.True(t, ok)
		assigned = append(assigned, dec2.WorkerID)

		s.MarkCompleted(dec1.NodeID)
		s.MarkCompleted(dec2.NodeID)

		decD, ok := s.NextDecision(4)
		require.True(t, ok)
		assigned = append(assigned, decD.WorkerID)
		require.Equal(t, dNode, decD.NodeID)
		return assigned
	}

	first := runOnce()
	second := runOnce()
	require.Equal(t, first, second, "identical (DAG, workers, completion sequence, strategy) must yield identical decisions (P5)")
}

func idLess(a, b kernel.ID) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

func TestRoundRobinCyclesByAscendingWorkerID(t *testing.T) {
	a, b, c := kernel.NewID("node"), kernel.NewID("node"), kernel.NewID("node")
	d := dag.New(
		[]dag.Node{{ID: a, Name: "A"}, {ID: b, Name: "B"}, {ID: c, Name: "C"}},
		nil,
	)
	s := scheduler.New(d, []kernel.ID{a, b, c}, scheduler.Config{Strategy: scheduler.RoundRobin}, idGenFor("task", 1))

	var w1b, w2b [16]byte
	w1b[15], w2b[15] = 1, 2
	wLo, wHi := kernel.IDFromBytes("worker", w1b), kernel.IDFromBytes("worker", w2b)
	s.AddWorker(scheduler.Worker{ID: wLo, Status: snapshot.WorkerIdle})
	s.AddWorker(scheduler.Worker{ID: wHi, Status: snapshot.WorkerIdle})

	dec1, ok := s.NextDecision(1)
	require.True(t, ok)
	require.Equal(t, wLo, dec1.WorkerID) // completedCount=0 -> index 0

	s.MarkCompleted(dec1.NodeID)
	dec2, ok := s.NextDecision(2)
	require.True(t, ok)
	require.Equal(t, wHi, dec2.WorkerID) // completedCount=1 -> index 1
}

func TestCapabilityFilteringExcludesUnqualifiedWorkers(t *testing.T) {
	a := kernel.NewID("node")
	d := dag.New([]dag.Node{{ID: a, Name: "A", RequiredCapabilities: []kernel.CapabilityKind{kernel.CapNetRead}}}, nil)
	s := scheduler.New(d, []kernel.ID{a}, scheduler.Config{}, idGenFor("task", 1))
	unqualified := kernel.NewID("worker")
	s.AddWorker(scheduler.Worker{ID: unqualified, Status: snapshot.WorkerIdle})

	_, ok := s.NextDecision(1)
	require.False(t, ok, "a worker lacking the required capability must not be selected")

	qualified := kernel.NewID("worker")
	s.AddWorker(scheduler.Worker{ID: qualified, Status: snapshot.WorkerIdle, Capabilities: []kernel.CapabilityKind{kernel.CapNetRead}})
	dec, ok := s.NextDecision(1)
	require.True(t, ok)
	require.Equal(t, qualified, dec.WorkerID)
}

func TestBackpressure(t *testing.T) {
	a := kernel.NewID("node")
	d := dag.New([]dag.Node{{ID: a}}, nil)
	s := scheduler.New(d, []kernel.ID{a}, scheduler.Config{MaxQueuePerWorker: 2, AcceptThreshold: 0.5, ThrottleThreshold: 0.5}, idGenFor("task", 1))
	w := kernel.NewID("worker")
	s.AddWorker(scheduler.Worker{ID: w, Status: snapshot.WorkerIdle, QueueDepth: 1})

	require.False(t, s.ShouldAccept()) // 1/2 = 0.5, not < 0.5 accept threshold
	require.False(t, s.ShouldThrottle()) // 0.5 is not > 0.5 throttle threshold
}
