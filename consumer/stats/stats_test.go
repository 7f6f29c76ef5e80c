package stats

import (
	"testing"

	"github.com/coredaq/tfagg/aggregator"
	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/slicer"
)

func TestPushDataAccumulatesAndReleases(t *testing.T) {
	pool, err := pagepool.New(2, 64*1024)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	out, err := aggregator.New(aggregator.Config{OutputCapacity: 4})
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}

	pg, ok := pool.Acquire()
	if !ok {
		t.Fatal("acquire")
	}
	pg.Header.DataSize = 100

	frame := aggregator.Frame{
		DataSet: slicer.DataSet{
			Source:      slicer.SourceId{EquipmentID: 1},
			TimeframeID: 1,
			Pages:       []pagepool.Page{pg},
		},
		TraceID: "t1",
	}
	if !out.Output().Push(frame) {
		t.Fatal("push frame")
	}

	c := New(out.Output(), pool, nil, 0)
	if !c.pushData() {
		t.Fatal("expected pushData to drain one frame")
	}

	snap := c.Counters()
	if snap.Blocks != 1 || snap.BytesTotal != 100 || snap.Timeframes != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	if pool.Capacity() != 2 {
		t.Fatalf("capacity changed unexpectedly")
	}
	if _, ok := pool.Acquire(); !ok {
		t.Fatal("the never-used second page should be acquirable")
	}
	pg2, ok := pool.Acquire()
	if !ok {
		t.Fatal("released page should be acquirable again")
	}
	_ = pg2
}

func TestPushDataFalseWhenEmpty(t *testing.T) {
	out, _ := aggregator.New(aggregator.Config{OutputCapacity: 2})
	c := New(out.Output(), nil, nil, 0)
	if c.pushData() {
		t.Fatal("expected pushData to report false on an empty queue")
	}
}

func TestNumberOfBytesToString(t *testing.T) {
	cases := map[uint64]string{
		500:               "500 B",
		2048:              "2.00 KiB",
		5 * 1024 * 1024:   "5.00 MiB",
	}
	for n, want := range cases {
		if got := numberOfBytesToString(n); got != want {
			t.Errorf("numberOfBytesToString(%d) = %q, want %q", n, got, want)
		}
	}
}
