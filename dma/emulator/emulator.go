// Package emulator synthesizes superpages carrying valid chained RDH-style
// frame headers at a configurable rate, standing in for real hardware in
// tests and the CLI demo.
package emulator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredaq/tfagg/dma"
	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/rdh"
)

// Config parameterizes the synthetic stream one Emulator produces.
type Config struct {
	LinkID         uint8
	CruID          uint16
	QueueDepth     int     // transfer/ready channel capacity; Q reported to the producer
	PagesPerSecond float64 // fill rate
	PacketsPerPage int     // chained RDH headers per page
	PayloadSize    int     // bytes following each header
	OrbitRate      float64 // defaulted to LHC_ORBIT_RATE; not read by fill, which advances hbOrbit by one per packet
}

// DefaultOrbitRate matches the LHC_ORBIT_RATE constant this domain uses to
// derive a timeframe rate from timeframePeriodOrbits.
const DefaultOrbitRate = 11246.0

// Driver is the dma.Driver implementation for dma.KindEmulator.
type Driver struct {
	cfg Config

	transferCh chan dma.Superpage
	readyCh    chan dma.Superpage

	stopCh chan struct{}
	wg     sync.WaitGroup

	hbOrbit       uint64
	packetCounter uint8
	dropped       atomic.Uint64
	running       atomic.Bool
}

// New returns an Emulator driver with the given configuration. Zero-valued
// fields are defaulted: QueueDepth=8, PagesPerSecond=1000,
// PacketsPerPage=1, PayloadSize=64, OrbitRate=DefaultOrbitRate.
func New(cfg Config) *Driver {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.PagesPerSecond <= 0 {
		cfg.PagesPerSecond = 1000
	}
	if cfg.PacketsPerPage <= 0 {
		cfg.PacketsPerPage = 1
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = 64
	}
	if cfg.OrbitRate <= 0 {
		cfg.OrbitRate = DefaultOrbitRate
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Open() error {
	d.transferCh = make(chan dma.Superpage, d.cfg.QueueDepth)
	d.readyCh = make(chan dma.Superpage, d.cfg.QueueDepth)
	d.stopCh = make(chan struct{})
	return nil
}

func (d *Driver) Close() error {
	return nil
}

func (d *Driver) Start() (int, error) {
	if d.running.Swap(true) {
		return d.cfg.QueueDepth, nil
	}
	d.wg.Add(1)
	go d.fillLoop()
	return d.cfg.QueueDepth, nil
}

func (d *Driver) Stop() error {
	if !d.running.Swap(false) {
		return nil
	}
	close(d.stopCh)
	d.wg.Wait()
	d.stopCh = make(chan struct{})
	return nil
}

func (d *Driver) PushSuperpage(sp dma.Superpage) (bool, error) {
	select {
	case d.transferCh <- sp:
		return true, nil
	default:
		return false, nil
	}
}

func (d *Driver) PopReady() (dma.Superpage, bool, bool) {
	select {
	case sp := <-d.readyCh:
		return sp, true, true
	default:
		return dma.Superpage{}, false, false
	}
}

func (d *Driver) DroppedSince() uint64 { return d.dropped.Load() }

func (d *Driver) fillLoop() {
	defer d.wg.Done()
	interval := time.Duration(float64(time.Second) / d.cfg.PagesPerSecond)
	if interval <= 0 {
		interval = time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			select {
			case sp := <-d.transferCh:
				d.fill(sp)
				select {
				case d.readyCh <- sp:
				default:
					d.dropped.Add(1)
				}
			default:
			}
		}
	}
}

func (d *Driver) fill(sp dma.Superpage) {
	pg, ok := sp.UserData.(pagepool.Page)
	if !ok {
		return
	}
	buf := pg.Payload
	offset := 0
	for i := 0; i < d.cfg.PacketsPerPage; i++ {
		h := rdh.FrameHeader{
			Version:       rdh.CurrentVersion,
			HeaderSize:    rdh.HeaderSize,
			BlockLength:   uint16(d.cfg.PayloadSize),
			CruID:         d.cfg.CruID,
			LinkID:        d.cfg.LinkID,
			PacketCounter: d.packetCounter,
			HbOrbit:       uint32(d.hbOrbit),
		}
		last := i == d.cfg.PacketsPerPage-1
		if !last && offset+rdh.HeaderSize+d.cfg.PayloadSize+rdh.HeaderSize <= len(buf) {
			h.OffsetNextPacket = uint16(rdh.HeaderSize + d.cfg.PayloadSize)
		}
		if offset+rdh.HeaderSize > len(buf) {
			break
		}
		rdh.Encode(h, buf[offset:])
		offset += rdh.HeaderSize + d.cfg.PayloadSize
		d.packetCounter++
		d.hbOrbit++
	}
}
