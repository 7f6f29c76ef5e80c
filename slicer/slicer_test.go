package slicer

import (
	"testing"

	"github.com/coredaq/tfagg/pagepool"
)

func page(eq uint16, link uint8, tf uint64) pagepool.Page {
	return pagepool.Page{Header: pagepool.PageHeader{EquipmentID: eq, LinkID: link, TimeframeID: tf}}
}

// Scenario 1 from the testable-properties section: single source boundary.
func TestSingleSourceBoundary(t *testing.T) {
	s := New(0)
	tags := []uint64{7, 7, 8, 8, UndefinedTimeframeID}
	for _, tf := range tags {
		if _, err := s.AppendBlock(page(0, 0, tf), 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var sizes []int
	var tfIds []uint64
	for {
		d, ok := s.GetSlice(true)
		if !ok {
			break
		}
		sizes = append(sizes, len(d.Pages))
		tfIds = append(tfIds, d.TimeframeID)
	}

	wantSizes := []int{2, 2, 1}
	wantTf := []uint64{7, 8, UndefinedTimeframeID}
	if len(sizes) != 3 {
		t.Fatalf("got %d datasets, want 3 (sizes=%v tfs=%v)", len(sizes), sizes, tfIds)
	}
	for i := range wantSizes {
		if sizes[i] != wantSizes[i] || tfIds[i] != wantTf[i] {
			t.Fatalf("dataset %d: got size=%d tf=%d, want size=%d tf=%d", i, sizes[i], tfIds[i], wantSizes[i], wantTf[i])
		}
	}
}

// Scenario 2: timeout flush.
func TestTimeoutFlush(t *testing.T) {
	s := New(0)
	if _, err := s.AppendBlock(page(0, 0, 7), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, ok := s.GetSlice(false); ok {
		t.Fatal("no slice should be complete before timeout")
	}
	n := s.CompleteOnTimeout(1.5 - 1.0)
	if n != 1 {
		t.Fatalf("CompleteOnTimeout flushed %d, want 1", n)
	}
	d, ok := s.GetSlice(false)
	if !ok {
		t.Fatal("expected a completed dataset")
	}
	if d.TimeframeID != 7 || len(d.Pages) != 1 {
		t.Fatalf("got tf=%d size=%d, want tf=7 size=1", d.TimeframeID, len(d.Pages))
	}
}

func TestTimeoutIdempotent(t *testing.T) {
	s := New(0)
	s.AppendBlock(page(0, 0, 7), 0)
	n1 := s.CompleteOnTimeout(1.0)
	n2 := s.CompleteOnTimeout(1.0)
	if n1 != 1 || n2 != 0 {
		t.Fatalf("got n1=%d n2=%d, want 1,0", n1, n2)
	}
}

// Scenario 4: undefined link collapses all equipment traffic into one stream.
func TestUndefinedLinkCollapses(t *testing.T) {
	s := New(0)
	for i := 0; i < 4; i++ {
		if _, err := s.AppendBlock(page(0, UndefinedLinkID, 9), 0); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	d, ok := s.GetSlice(true)
	if !ok {
		t.Fatal("expected an incomplete dataset to be returned")
	}
	if len(d.Pages) != 4 {
		t.Fatalf("got size %d, want 4", len(d.Pages))
	}
}

func TestLinkOutOfRangeErrors(t *testing.T) {
	s := New(0)
	if _, err := s.AppendBlock(page(0, MaxLinks, 1), 0); err == nil {
		t.Fatal("expected link range error")
	}
}

func TestDrainReleasesAllPages(t *testing.T) {
	s := New(0)
	s.AppendBlock(page(0, 0, 1), 0)
	s.AppendBlock(page(0, 0, 2), 0) // closes tf=1, opens tf=2
	s.AppendBlock(page(1, 0, 5), 0)

	var released []pagepool.Page
	err := s.Drain(func(p pagepool.Page) error {
		released = append(released, p)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(released) != 3 {
		t.Fatalf("released %d pages, want 3", len(released))
	}
	if _, ok := s.GetSlice(true); ok {
		t.Fatal("slicer should be empty after drain")
	}
}
