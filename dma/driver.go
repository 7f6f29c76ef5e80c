// Package dma defines the capability set an EquipmentProducer drives:
// submit free pages for transfer, harvest ready ones, and report dropped
// packets. Concrete equipment types (hardware card, emulator, file replay)
// implement Driver and are selected by tag rather than by a type
// hierarchy, per the polymorphism-to-tagged-variant design note.
package dma

import "errors"

// Kind tags which concrete Driver implementation a producer should use.
type Kind int

const (
	KindCard Kind = iota
	KindEmulator
	KindFileReplay
)

func (k Kind) String() string {
	switch k {
	case KindCard:
		return "card"
	case KindEmulator:
		return "emulator"
	case KindFileReplay:
		return "filereplay"
	default:
		return "unknown"
	}
}

// Superpage is a page handed to the driver for transfer and handed back
// once filled. UserData carries the originating pagepool.Page itself so the
// producer can map it back without a lookup.
type Superpage struct {
	Offset   int
	Size     int
	UserData interface{}
}

// ErrNoHardware is returned by a card driver's Open when no physical
// device is present; this repository ships no real hardware backend.
var ErrNoHardware = errors.New("dma: no hardware present")

// Driver is the capability set EquipmentProducer drives each tick.
type Driver interface {
	// Open acquires the underlying channel. Returns DriverError-class
	// errors on failure.
	Open() error
	// Close releases the underlying channel.
	Close() error
	// Start enables DMA transfer and returns the transfer-queue depth Q.
	Start() (int, error)
	// Stop disables DMA transfer.
	Stop() error
	// PushSuperpage submits a free page for transfer. ok=false means the
	// driver's transfer queue is full; the caller releases the page back
	// to the pool.
	PushSuperpage(sp Superpage) (ok bool, err error)
	// PopReady returns one filled superpage if the ready queue is
	// non-empty.
	PopReady() (sp Superpage, ready bool, ok bool)
	// DroppedSince returns the cumulative count of packets the driver has
	// dropped since the channel was opened.
	DroppedSince() uint64
}
