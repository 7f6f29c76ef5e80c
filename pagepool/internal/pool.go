// Package internal implements the concrete MemoryPool behind the public
// pagepool package. Kept internal so construction of a Pool always goes
// through pagepool.New, matching the public/internal split the rest of the
// module follows.
package internal

import (
	"fmt"
	"sync"
	"unsafe"
)

// HeaderReserve is the fixed prefix of every page reserved for PageHeader.
const HeaderReserve = 16

// dmaGranularity is the hardware DMA rounding unit: usable page size is
// always rounded down to a multiple of this.
const dmaGranularity = 32 * 1024

// UndefinedEquipmentID and UndefinedLinkID are the PageHeader sentinels.
const (
	UndefinedEquipmentID uint16 = 0
	UndefinedLinkID      uint8  = 0xFF
)

// PageHeader carries the tags an EquipmentProducer decorates a page with.
type PageHeader struct {
	DataSize    uint32
	EquipmentID uint16
	LinkID      uint8
	TimeframeID uint64
}

// Ref is a move-only handle to a page: an index into the pool's backing
// block plus a generation counter, so a stale Ref can never alias a page
// that has since been reacquired.
type Ref struct {
	index      int
	generation uint64
}

// Page is the page itself: a header region, plus the payload the DMA engine
// writes into.
type Page struct {
	Ref     Ref
	Header  PageHeader
	Payload []byte
}

// Pool is a fixed-capacity pool of pages cut from one contiguous backing
// block, the concrete implementation of spec.md §4.1's MemoryPool contract.
type Pool struct {
	mu sync.Mutex

	backing    []byte
	pageSize   int
	usableSize int
	pages      []Page
	generation []uint64
	free       []int // free-list of indices
}

// ErrConfig is returned when the usable DMA region per page would round
// down to zero.
var ErrConfig = fmt.Errorf("pagepool: usable page size rounds to zero")

// New allocates capacity pages of pageSize bytes each from one contiguous
// block. The usable payload per page is pageSize-HeaderReserve rounded down
// to a 32 KiB multiple.
func New(capacity, pageSize int) (*Pool, error) {
	usable := pageSize - HeaderReserve
	usable -= usable % dmaGranularity
	if usable <= 0 {
		return nil, ErrConfig
	}

	p := &Pool{
		backing:    make([]byte, capacity*pageSize),
		pageSize:   pageSize,
		usableSize: usable,
		pages:      make([]Page, capacity),
		generation: make([]uint64, capacity),
		free:       make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		base := i * pageSize
		p.pages[i] = Page{
			Ref:     Ref{index: i, generation: 0},
			Payload: p.backing[base+HeaderReserve : base+HeaderReserve+usable],
		}
		p.free[i] = capacity - 1 - i // pop from the end; order is immaterial
	}
	return p, nil
}

// BaseAddress returns the address of the contiguous backing block, exposed
// for registration with a DMA engine.
func (p *Pool) BaseAddress() uintptr {
	if len(p.backing) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&p.backing[0]))
}

// BaseSize returns the total size of the backing block.
func (p *Pool) BaseSize() int { return len(p.backing) }

// PageSize returns the fixed page size including header reserve.
func (p *Pool) PageSize() int { return p.pageSize }

// UsableSize returns the DMA-granularity-rounded payload size per page.
func (p *Pool) UsableSize() int { return p.usableSize }

// Capacity returns the fixed number of pages in the pool.
func (p *Pool) Capacity() int { return len(p.pages) }

// Acquire returns a free page, or ok=false if the pool is empty.
func (p *Pool) Acquire() (Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return Page{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	pg := p.pages[idx]
	pg.Ref.generation = p.generation[idx]
	pg.Header = PageHeader{}
	return pg, true
}

// Release returns a page to the free list. Releasing a page whose
// generation does not match the pool's current generation for that index
// is a programmer error (double release) and is reported rather than
// silently accepted.
func (p *Pool) Release(pg Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := pg.Ref.index
	if idx < 0 || idx >= len(p.pages) {
		return fmt.Errorf("pagepool: release: index %d out of range", idx)
	}
	if pg.Ref.generation != p.generation[idx] {
		return fmt.Errorf("pagepool: release: stale or double release of index %d", idx)
	}
	p.generation[idx]++
	p.free = append(p.free, idx)
	return nil
}

// IsValid reports whether pg still refers to a page currently on loan from
// this pool (not free, not stale), guarding against stray pointers handed
// back by a misbehaving driver.
func (p *Pool) IsValid(pg Page) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := pg.Ref.index
	if idx < 0 || idx >= len(p.pages) {
		return false
	}
	if pg.Ref.generation != p.generation[idx] {
		return false
	}
	for _, f := range p.free {
		if f == idx {
			return false
		}
	}
	return true
}

// PageRef is a reference-counted handle whose terminal Release call returns
// the underlying page to the pool. Most call sites use the plain move-only
// Page/Ref pair; PageRef exists for the rarer case where a page must be
// shared across more than one concurrent holder (spec.md §9 design note).
type PageRef struct {
	pool *Pool
	page Page
	refs *int32
	mu   *sync.Mutex
}

// Wrap returns a PageRef over pg with an initial reference count of 1.
func (p *Pool) Wrap(pg Page) PageRef {
	n := int32(1)
	return PageRef{pool: p, page: pg, refs: &n, mu: &sync.Mutex{}}
}

// Retain increments the reference count and returns the same handle.
func (r PageRef) Retain() PageRef {
	r.mu.Lock()
	*r.refs++
	r.mu.Unlock()
	return r
}

// Release decrements the reference count, returning the page to the pool
// when it reaches zero.
func (r PageRef) Release() error {
	r.mu.Lock()
	*r.refs--
	last := *r.refs == 0
	r.mu.Unlock()
	if !last {
		return nil
	}
	return r.pool.Release(r.page)
}

// Page returns the underlying page for reading/writing its payload.
func (r PageRef) Page() Page { return r.page }
