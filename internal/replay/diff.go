package replay

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
)

// AlignEntry is one step of the parallel walk over two event sequences
// (spec §4.9 "Diff: Align"). Exactly one of Left/Right is absent when one
// side reaches the boundary of the run (noted via HasLeft/HasRight); both
// are present at equal logical_time, compared for equality.
type AlignEntry struct {
	LogicalTime kernel.LogicalTime
	Left        eventlog.Event
	HasLeft     bool
	Right       eventlog.Event
	HasRight    bool
	Equal       bool
}

// Align walks left and right in parallel ordered by ascending
// logical_time. Equal logical_time entries are compared by kind +
// payload_hash + (if present) prior/post state hash; a side with a
// smaller logical_time than the other advances alone and is marked
// unequal (a "MissingLeft"/"MissingRight" step per spec §4.9).
func Align(left, right []eventlog.Event) []AlignEntry {
	var out []AlignEntry
	i, j := 0, 0
	for i < len(left) || j < len(right) {
		switch {
		case i >= len(left):
			out = append(out, AlignEntry{LogicalTime: right[j].LogicalTime, Right: right[j], HasRight: true})
			j++
		case j >= len(right):
			out = append(out, AlignEntry{LogicalTime: left[i].LogicalTime, Left: left[i], HasLeft: true})
			i++
		case left[i].LogicalTime < right[j].LogicalTime:
			out = append(out, AlignEntry{LogicalTime: left[i].LogicalTime, Left: left[i], HasLeft: true})
			i++
		case right[j].LogicalTime < left[i].LogicalTime:
			out = append(out, AlignEntry{LogicalTime: right[j].LogicalTime, Right: right[j], HasRight: true})
			j++
		default:
			l, r := left[i], right[j]
			eq := l.Kind == r.Kind && l.PayloadHash == r.PayloadHash
			if eq && l.HasPriorState && r.HasPriorState {
				eq = l.PriorStateHash == r.PriorStateHash
			}
			if eq && l.HasPostState && r.HasPostState {
				eq = l.PostStateHash == r.PostStateHash
			}
			out = append(out, AlignEntry{LogicalTime: l.LogicalTime, Left: l, HasLeft: true, Right: r, HasRight: true, Equal: eq})
			i++
			j++
		}
	}
	return out
}

// DivergenceReport is the result of diffing two event sequences (spec
// §4.9's first-divergence + causal-ancestor output).
type DivergenceReport struct {
	FirstDivergenceIndex int
	Aligned              []AlignEntry
	CausalAncestors      []eventlog.Event // ordered oldest-to-newest, ending at the divergent event's side
	LikelyCause          string
}

// FirstDivergence returns the smallest index in aligned where the entry
// is unequal or missing a side, and -1 if the sequences align completely
// (spec §4.9: "First divergence = smallest index where alignment yields
// inequality or a missing side").
func FirstDivergence(aligned []AlignEntry) int {
	for i, a := range aligned {
		if !a.HasLeft || !a.HasRight || !a.Equal {
			return i
		}
	}
	return -1
}

// CausalAncestors walks e's parent_event_id chain within log back to the
// nearest RunStarted event (or the start of the log, whichever comes
// first), returning at most maxAncestors entries ordered oldest-to-newest
// (spec §4.9).
func CausalAncestors(log *eventlog.Log, e eventlog.Event, maxAncestors int) []eventlog.Event {
	var chain []eventlog.Event
	cur := e
	for len(chain) < maxAncestors {
		chain = append(chain, cur)
		if cur.Kind == eventlog.KindRunStarted {
			break
		}
		if !cur.HasParent {
			break
		}
		cur2, ok := lookup(log, cur.ParentEventID)
		if !ok {
			break
		}
		cur = cur2
	}
	reversed := make([]eventlog.Event, len(chain))
	for i, ev := range chain {
		reversed[len(chain)-1-i] = ev
	}
	return reversed
}

func lookup(log *eventlog.Log, id kernel.ID) (eventlog.Event, bool) {
	cur, ok := log.Seek(id)
	if !ok {
		return eventlog.Event{}, false
	}
	return log.At(cur.EventIndex)
}

// Diff aligns leftLog and rightLog, localizes the first divergence, and
// collects causal ancestors from both logs bounded by maxAncestors.
// likelyCause is a best-effort classification: "ExternalDataChanged" when
// the divergent events are both ToolCompleted (the tool's declared
// determinism is Maybe per spec scenario 5), otherwise "Unknown".
func Diff(leftLog, rightLog *eventlog.Log, maxAncestors int) DivergenceReport {
	left := allEvents(leftLog)
	right := allEvents(rightLog)
	aligned := Align(left, right)
	idx := FirstDivergence(aligned)
	report := DivergenceReport{FirstDivergenceIndex: idx, Aligned: aligned}
	if idx < 0 {
		return report
	}

	entry := aligned[idx]
	var ancestors []eventlog.Event
	if entry.HasLeft {
		ancestors = append(ancestors, CausalAncestors(leftLog, entry.Left, maxAncestors)...)
	}
	if entry.HasRight {
		ancestors = append(ancestors, CausalAncestors(rightLog, entry.Right, maxAncestors)...)
	}
	report.CausalAncestors = ancestors

	if entry.HasLeft && entry.HasRight && entry.Left.Kind == eventlog.KindToolCompleted && entry.Right.Kind == eventlog.KindToolCompleted {
		report.LikelyCause = "ExternalDataChanged"
	} else {
		report.LikelyCause = "Unknown"
	}
	return report
}

func allEvents(log *eventlog.Log) []eventlog.Event {
	var out []eventlog.Event
	it := log.All()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

// SemanticChange is one field- or index-level difference reported by
// SemanticDiff (spec §4.9 "Semantic diff (optional)").
type SemanticChange struct {
	Path string
	Kind string // "Added", "Removed", "Changed"
	Left any
	Right any
}

// SemanticDiff recurses over two decoded JSON-like values (the shape
// produced by encoding/json.Unmarshal into `any`: map[string]any,
// []any, and scalars), reporting Added/Removed/Changed nodes with object
// keys visited in sorted order and arrays compared positionally, so
// output is deterministic regardless of map iteration order (spec §4.9:
// "Output is deterministic: object fields sorted, stable index order").
// It is built on a custom cmp.Reporter rather than a hand-rolled
// recursive differ.
func SemanticDiff(left, right any) []SemanticChange {
	r := &semanticReporter{}
	cmp.Diff(left, right, cmp.Reporter(r))
	sort.Slice(r.changes, func(i, j int) bool { return r.changes[i].Path < r.changes[j].Path })
	return r.changes
}

type semanticReporter struct {
	path    cmp.Path
	changes []SemanticChange
}

func (r *semanticReporter) PushStep(ps cmp.PathStep) { r.path = append(r.path, ps) }

func (r *semanticReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	vx, vy := r.path.Last().Values()
	path := pathString(r.path)
	switch {
	case !vx.IsValid():
		r.changes = append(r.changes, SemanticChange{Path: path, Kind: "Added", Right: vy.Interface()})
	case !vy.IsValid():
		r.changes = append(r.changes, SemanticChange{Path: path, Kind: "Removed", Left: vx.Interface()})
	default:
		r.changes = append(r.changes, SemanticChange{Path: path, Kind: "Changed", Left: vx.Interface(), Right: vy.Interface()})
	}
}

func (r *semanticReporter) PopStep() { r.path = r.path[:len(r.path)-1] }

func pathString(p cmp.Path) string {
	s := ""
	for _, step := range p {
		switch st := step.(type) {
		case cmp.MapIndex:
			s += fmt.Sprintf(".%v", st.Key())
		case cmp.SliceIndex:
			s += fmt.Sprintf("[%d]", st.Key())
		}
	}
	if s == "" {
		return "."
	}
	return s
}
