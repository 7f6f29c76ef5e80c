// Package card is the hardware PCIe DMA driver variant. This repository
// ships no physical-device backend; Open always fails with
// dma.ErrNoHardware so the driver-kind switch in cmd/tfaggd's newDriver
// stays exhaustive and documented.
package card

import "github.com/coredaq/tfagg/dma"

// Driver is a stub satisfying dma.Driver for the KindCard tag.
type Driver struct{}

// New returns a card Driver stub.
func New() *Driver { return &Driver{} }

func (d *Driver) Open() error { return dma.ErrNoHardware }
func (d *Driver) Close() error { return nil }
func (d *Driver) Start() (int, error) { return 0, dma.ErrNoHardware }
func (d *Driver) Stop() error { return nil }
func (d *Driver) PushSuperpage(dma.Superpage) (bool, error) { return false, dma.ErrNoHardware }
func (d *Driver) PopReady() (dma.Superpage, bool, bool)     { return dma.Superpage{}, false, false }
func (d *Driver) DroppedSince() uint64                       { return 0 }
