// Package slicer groups pages sharing a timeframe id into DataSets, one
// Slicer per EquipmentProducer input. It is a direct port of the original
// readout's DataBlockSlicer: boundary detection on timeframe-id change plus
// an inactivity-timeout completion rule.
package slicer

import (
	"errors"
	"fmt"

	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/rdh"
)

// MaxLinks bounds the per-equipment link id space.
const MaxLinks = rdh.MaxLinks

// UndefinedLinkID collapses all traffic of an equipment into one stream.
const UndefinedLinkID = uint8(rdh.UndefinedLinkID)

// UndefinedTimeframeID forces closure of any in-progress open set.
const UndefinedTimeframeID = rdh.UndefinedTimeframeID

// ErrLinkRange is returned by AppendBlock when a page carries an out of
// range LinkID.
var ErrLinkRange = errors.New("slicer: link id out of range")

// SourceId identifies a slicing stream: an equipment id and a link id.
// Equality defines the stream; a LinkID of UndefinedLinkID collapses all
// traffic of that equipment into a single stream.
type SourceId struct {
	EquipmentID uint16
	LinkID      uint8
}

// DataSet is an ordered, non-empty sequence of pages sharing a single
// timeframe id and SourceId.
type DataSet struct {
	Source      SourceId
	TimeframeID uint64
	Pages       []pagepool.Page
}

// partialSlice is the per-SourceId state a Slicer tracks: an open set still
// accepting pages, plus the monotonic time it was last appended to.
type partialSlice struct {
	tfId           uint64
	open           *DataSet
	lastUpdateTime float64
}

// Slicer accumulates pages into DataSets, one instance per
// EquipmentProducer input.
type Slicer struct {
	id        int
	perSource map[SourceId]*partialSlice
	completed []DataSet
}

// New creates an empty Slicer. id is a stable identifier the Aggregator
// assigns in AddInput (the input's index), mirroring DataBlockSlicer.slicerId.
func New(id int) *Slicer {
	return &Slicer{
		id:        id,
		perSource: make(map[SourceId]*partialSlice),
	}
}

// ID returns the stable slicer id assigned at construction.
func (s *Slicer) ID() int { return s.id }

// AppendBlock appends one page to its source's open set, closing the
// previous open set onto the completed queue first if the page starts a
// new timeframe (or carries UndefinedTimeframeID, which always forces a
// close). Returns the resulting open-set size, or an error for an
// out-of-range LinkID.
func (s *Slicer) AppendBlock(p pagepool.Page, now float64) (int, error) {
	src := SourceId{EquipmentID: p.Header.EquipmentID, LinkID: p.Header.LinkID}
	tfId := p.Header.TimeframeID

	if src.LinkID != UndefinedLinkID && int(src.LinkID) >= MaxLinks {
		return -1, fmt.Errorf("%w: %d >= %d", ErrLinkRange, src.LinkID, MaxLinks)
	}

	ps, ok := s.perSource[src]
	if !ok {
		ps = &partialSlice{}
		s.perSource[src] = ps
	}

	if ps.open != nil {
		if ps.tfId != tfId || tfId == UndefinedTimeframeID {
			s.completed = append(s.completed, *ps.open)
			ps.open = nil
		}
	}
	if ps.open == nil {
		ps.open = &DataSet{Source: src, TimeframeID: tfId}
	}
	ps.open.Pages = append(ps.open.Pages, p)
	ps.tfId = tfId
	ps.lastUpdateTime = now

	return len(ps.open.Pages), nil
}

// CompleteOnTimeout closes every open set whose source has gone silent
// since threshold, pushing it onto the completed queue. Returns the number
// of sets flushed. Calling it twice with the same threshold closes at most
// once per open slice (idempotent: a slice with no open set contributes
// nothing the second time).
func (s *Slicer) CompleteOnTimeout(threshold float64) int {
	n := 0
	for _, ps := range s.perSource {
		if ps.open != nil && ps.lastUpdateTime <= threshold {
			s.completed = append(s.completed, *ps.open)
			ps.open = nil
			n++
		}
	}
	return n
}

// GetSlice returns the oldest completed DataSet if any. If none is
// completed and includeIncomplete is true, it closes and returns any one
// open set (iteration order across sources is unspecified); otherwise it
// returns ok=false.
func (s *Slicer) GetSlice(includeIncomplete bool) (DataSet, bool) {
	if len(s.completed) > 0 {
		d := s.completed[0]
		s.completed = s.completed[1:]
		return d, true
	}
	if !includeIncomplete {
		return DataSet{}, false
	}
	for _, ps := range s.perSource {
		if ps.open != nil {
			d := *ps.open
			ps.open = nil
			return d, true
		}
	}
	return DataSet{}, false
}

// Drain empties the completed queue and every open set, invoking release
// for each contained page, matching the drain-on-stop flush of spec.md §5.
func (s *Slicer) Drain(release func(pagepool.Page) error) error {
	for _, d := range s.completed {
		for _, p := range d.Pages {
			if err := release(p); err != nil {
				return err
			}
		}
	}
	s.completed = nil
	for _, ps := range s.perSource {
		if ps.open == nil {
			continue
		}
		for _, p := range ps.open.Pages {
			if err := release(p); err != nil {
				return err
			}
		}
		ps.open = nil
	}
	return nil
}
