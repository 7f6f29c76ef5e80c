// Package pagepool provides fixed-size, aligned pages drawn from a single
// pre-registered contiguous block, shared with a DMA engine. It is the
// public face of the MemoryPool component; construction and the pool's
// internal bookkeeping live in the internal package.
package pagepool

import "github.com/coredaq/tfagg/pagepool/internal"

// Page is a fixed-size buffer: a small header region plus a payload region
// the DMA engine writes into.
type Page = internal.Page

// PageHeader is the small tag block a producer writes into each page's
// header reserve: DataSize, EquipmentID, LinkID, TimeframeID.
type PageHeader = internal.PageHeader

// Ref is a move-only handle to a page: a pool index plus a generation
// counter.
type Ref = internal.Ref

// PageRef is a reference-counted handle whose terminal Release call
// returns the page to the pool.
type PageRef = internal.PageRef

// UndefinedEquipmentID and UndefinedLinkID are the reserved PageHeader
// sentinel values.
const (
	UndefinedEquipmentID = internal.UndefinedEquipmentID
	UndefinedLinkID      = internal.UndefinedLinkID
)

// HeaderReserve is the fixed prefix of every page reserved for PageHeader.
const HeaderReserve = internal.HeaderReserve

// ErrConfig is returned by New when the usable DMA region per page would
// round down to zero.
var ErrConfig = internal.ErrConfig

// Pool is the concrete MemoryPool: a fixed-capacity set of pages cut from
// one contiguous backing block.
type Pool struct {
	impl *internal.Pool
}

// New allocates a Pool of capacity pages of pageSize bytes each. The usable
// payload per page is pageSize-HeaderReserve rounded down to a 32 KiB
// multiple; if that rounds to zero, New returns ErrConfig.
func New(capacity, pageSize int) (*Pool, error) {
	impl, err := internal.New(capacity, pageSize)
	if err != nil {
		return nil, err
	}
	return &Pool{impl: impl}, nil
}

// BaseAddress reports the address of the contiguous backing block.
func (p *Pool) BaseAddress() uintptr { return p.impl.BaseAddress() }

// BaseSize reports the total size of the backing block.
func (p *Pool) BaseSize() int { return p.impl.BaseSize() }

// PageSize reports the fixed page size including header reserve.
func (p *Pool) PageSize() int { return p.impl.PageSize() }

// UsableSize reports the DMA-granularity-rounded payload size per page.
func (p *Pool) UsableSize() int { return p.impl.UsableSize() }

// Capacity reports the fixed number of pages in the pool.
func (p *Pool) Capacity() int { return p.impl.Capacity() }

// Acquire returns a free page, or ok=false if the pool is empty. O(1).
func (p *Pool) Acquire() (Page, bool) { return p.impl.Acquire() }

// Release returns a page to the free list. O(1). Calling Release twice on
// the same acquisition is a programmer error and is reported as an error
// rather than silently accepted.
func (p *Pool) Release(pg Page) error { return p.impl.Release(pg) }

// IsValid reports whether pg currently refers to a page on loan from this
// pool, detecting stray pointers returned by a misbehaving driver.
func (p *Pool) IsValid(pg Page) bool { return p.impl.IsValid(pg) }

// Wrap returns a reference-counted handle over pg whose terminal Release
// call returns the page to the pool.
func (p *Pool) Wrap(pg Page) PageRef { return p.impl.Wrap(pg) }
