package eventlog_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

func buildChain(t *testing.T, n int) *eventlog.Log {
	t.Helper()
	log := eventlog.New()
	runID := kernel.NewID("run")
	var prior hashid.Hash
	havePrior := false
	for i := 0; i < n; i++ {
		payload := []byte{byte(i)}
		e := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), kernel.LogicalTime(i+1), eventlog.KindHeartbeat, payload)
		if havePrior {
			e = e.WithPriorState(prior)
		}
		post := hashid.H(append([]byte("state"), byte(i)))
		e = e.WithPostState(post)
		require.NoError(t, log.Append(e))
		prior = post
		havePrior = true
	}
	return log
}

// P3: chain continuity across a well-formed log.
func TestChainContinuity(t *testing.T) {
	log := buildChain(t, 5)
	require.Equal(t, 5, log.Len())
	require.NoError(t, log.Validate())
}

// P4: logical time must strictly increase.
func TestLogicalTimeMustIncrease(t *testing.T) {
	log := eventlog.New()
	runID := kernel.NewID("run")
	e1 := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), 5, eventlog.KindHeartbeat, []byte("a"))
	require.NoError(t, log.Append(e1))

	e2 := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), 5, eventlog.KindHeartbeat, []byte("b"))
	err := log.Append(e2)
	require.Error(t, err)
}

func TestBrokenLinkRejected(t *testing.T) {
	log := eventlog.New()
	runID := kernel.NewID("run")
	e1 := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), 1, eventlog.KindHeartbeat, []byte("a")).
		WithPostState(hashid.H([]byte("s1")))
	require.NoError(t, log.Append(e1))

	e2 := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), 2, eventlog.KindHeartbeat, []byte("b")).
		WithPriorState(hashid.H([]byte("wrong"))).
		WithPostState(hashid.H([]byte("s2")))
	err := log.Append(e2)
	require.Error(t, err)
}

func TestFirstEventMustNotHavePriorState(t *testing.T) {
	log := eventlog.New()
	runID := kernel.NewID("run")
	e1 := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.NewID("node"), 1, eventlog.KindHeartbeat, []byte("a")).
		WithPriorState(hashid.H([]byte("anything")))
	err := log.Append(e1)
	require.Error(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	log := buildChain(t, 8)

	var buf bytes.Buffer
	_, err := log.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := eventlog.ReadFrom(&buf)
	require.NoError(t, err)
	require.Equal(t, log.Len(), loaded.Len())
	require.NoError(t, loaded.Validate())

	for i := 0; i < log.Len(); i++ {
		want, _ := log.At(i)
		got, _ := loaded.At(i)
		require.Equal(t, want, got)
	}
}

func TestIndexBinarySearch(t *testing.T) {
	log := buildChain(t, 10)
	idx := eventlog.BuildIndex(log)

	for i := 0; i < log.Len(); i++ {
		e, _ := log.At(i)
		_, ok := idx.Offset(e.EventID)
		require.True(t, ok)
	}

	_, ok := idx.Offset(kernel.NewID("evt"))
	require.False(t, ok)
}

func TestSeekFindsAppendedEvent(t *testing.T) {
	log := buildChain(t, 3)
	e, _ := log.At(1)
	cur, ok := log.Seek(e.EventID)
	require.True(t, ok)
	require.Equal(t, 1, cur.EventIndex)
}

func TestIteratorWalksInOrder(t *testing.T) {
	log := buildChain(t, 4)
	it := log.All()
	count := 0
	var lastTime kernel.LogicalTime
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		require.True(t, lastTime < e.LogicalTime || count == 0)
		lastTime = e.LogicalTime
		count++
	}
	require.Equal(t, log.Len(), count)
}
