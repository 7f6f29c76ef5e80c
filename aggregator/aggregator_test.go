package aggregator

import (
	"testing"

	"github.com/coredaq/tfagg/boundedqueue"
	"github.com/coredaq/tfagg/pagepool"
)

func newInput(t *testing.T, cap int) *boundedqueue.Queue[pagepool.Page] {
	t.Helper()
	q, err := boundedqueue.New[pagepool.Page](cap)
	if err != nil {
		t.Fatalf("new input queue: %v", err)
	}
	return q
}

func page(eq uint16, link uint8, tf uint64) pagepool.Page {
	return pagepool.Page{Header: pagepool.PageHeader{EquipmentID: eq, LinkID: link, TimeframeID: tf}}
}

func newTestAggregator(t *testing.T, cfg Config) (*Aggregator, float64) {
	t.Helper()
	clockVal := 0.0
	if cfg.Clock == nil {
		cfg.Clock = func() float64 { return clockVal }
	}
	if cfg.OutputCapacity == 0 {
		cfg.OutputCapacity = 16
	}
	agg, err := New(cfg)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg, clockVal
}

// Scenario 3: two sources, round-robin.
func TestTwoSourcesRoundRobin(t *testing.T) {
	agg, _ := newTestAggregator(t, Config{})
	inA := newInput(t, 8)
	inB := newInput(t, 8)
	agg.AddInput(inA)
	agg.AddInput(inB)

	for i := 0; i < 3; i++ {
		inA.Push(page(0, 0, 5))
		inB.Push(page(1, 0, 5))
	}

	agg.Tick() // absorbs both inputs into their open sets; no boundary yet
	agg.Flush()
	for res := agg.Tick(); res == ResultOk; res = agg.Tick() {
	}

	var gotFrames []Frame
	for {
		f, ok := agg.Output().Pop()
		if !ok {
			break
		}
		gotFrames = append(gotFrames, f)
	}

	if len(gotFrames) != 2 {
		t.Fatalf("got %d datasets, want 2", len(gotFrames))
	}
	for _, f := range gotFrames {
		if len(f.DataSet.Pages) != 3 {
			t.Fatalf("dataset size = %d, want 3", len(f.DataSet.Pages))
		}
	}
	if gotFrames[0].DataSet.Source.EquipmentID == gotFrames[1].DataSet.Source.EquipmentID {
		t.Fatal("the two datasets should come from different sources")
	}
}

// Scenario 5: passthrough preserves per-source order and emits one
// single-page DataSet per page.
func TestPassthroughPreservesOrder(t *testing.T) {
	agg, _ := newTestAggregator(t, Config{DisableSlicing: true})
	in := newInput(t, 8)
	agg.AddInput(in)

	for i := 0; i < 5; i++ {
		in.Push(page(0, 0, uint64(i)))
	}

	for res := agg.Tick(); res == ResultOk; res = agg.Tick() {
	}

	var got []uint64
	for {
		f, ok := agg.Output().Pop()
		if !ok {
			break
		}
		if len(f.DataSet.Pages) != 1 {
			t.Fatalf("passthrough dataset size = %d, want 1", len(f.DataSet.Pages))
		}
		got = append(got, f.DataSet.TimeframeID)
	}
	if len(got) != 5 {
		t.Fatalf("got %d datasets, want 5", len(got))
	}
	for i, tf := range got {
		if tf != uint64(i) {
			t.Fatalf("dataset %d has tf %d, want %d", i, tf, i)
		}
	}
}

// Scenario 6: drain on stop via flush.
func TestFlushDrainsOpenSet(t *testing.T) {
	agg, _ := newTestAggregator(t, Config{})
	in := newInput(t, 8)
	agg.AddInput(in)

	in.Push(page(0, 0, 3))
	in.Push(page(0, 0, 3))

	agg.Tick() // absorb both pages into the open set, no boundary yet

	if f, ok := agg.Output().Pop(); ok {
		t.Fatalf("no dataset should be closed yet, got %+v", f)
	}

	agg.Flush()
	var last Result
	for i := 0; i < 4; i++ {
		last = agg.Tick()
	}
	if last != ResultIdle {
		t.Fatalf("aggregator should settle to Idle once flush completes, got %v", last)
	}

	f, ok := agg.Output().Pop()
	if !ok {
		t.Fatal("expected one flushed dataset")
	}
	if len(f.DataSet.Pages) != 2 {
		t.Fatalf("flushed dataset size = %d, want 2", len(f.DataSet.Pages))
	}
}

func TestFatalOnInvalidLink(t *testing.T) {
	agg, _ := newTestAggregator(t, Config{})
	in := newInput(t, 8)
	agg.AddInput(in)
	in.Push(page(0, 200, 1)) // 200 >= MaxLinks

	res := agg.Tick()
	if res != ResultError {
		t.Fatalf("got %v, want ResultError", res)
	}
}
