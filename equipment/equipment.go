// Package equipment implements one EquipmentProducer per physical input
// channel: it owns a DMA driver handle, continuously hands free pages to
// it, harvests ready ones, decorates each with equipment/link/timeframe
// tags, optionally validates embedded frame headers, and deposits the page
// into its dedicated bounded output queue.
package equipment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coredaq/tfagg/boundedqueue"
	"github.com/coredaq/tfagg/dma"
	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/rdh"
)

// State is one point in the producer's lifecycle.
type State int

const (
	StateUninit State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "Uninit"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Result is the outcome of one tick.
type Result int

const (
	ResultOk Result = iota
	ResultIdle
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultIdle:
		return "Idle"
	case ResultError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrWrongState is returned when a lifecycle method is called out of
// order.
var ErrWrongState = errors.New("equipment: wrong state for operation")

// Config collects every configuration key the producer consumes.
type Config struct {
	RdhUseFirstInPageEnabled        bool
	RdhCheckEnabled                 bool
	RdhCheckPacketCounterContiguous bool // default true
	RdhDumpEnabled                  int  // negative = dump only first |n|
	RdhDumpErrorEnabled             bool // default true
	CleanPageBeforeUse              bool
	TFPeriodOrbits                  uint64 // default 256
	StopOnError                     bool
	OrbitRate                       float64 // LHC_ORBIT_RATE, default 11246
}

// DefaultConfig returns the configuration defaults enumerated in the
// external interfaces section.
func DefaultConfig() Config {
	return Config{
		RdhCheckPacketCounterContiguous: true,
		RdhDumpErrorEnabled:             true,
		TFPeriodOrbits:                  256,
		OrbitRate:                       11246,
	}
}

// Counters are the read-only observable counters this core exposes.
type Counters struct {
	PagesIn         uint64
	PagesEmpty      uint64
	PagesLost       uint64
	Timeframes      uint64
	RdhOk           uint64
	RdhErr          uint64
	RdhStreamErr    uint64
	DroppedByDriver uint64
	PushBlockedIdle uint64
}

// Producer is one EquipmentProducer: one DMA channel, one output queue.
type Producer struct {
	cfg    Config
	driver dma.Driver
	pool   *pagepool.Pool
	output *boundedqueue.Queue[pagepool.Page]
	logger *slog.Logger

	mu    sync.Mutex
	state State
	q     int // transfer-queue depth captured at start; 0 treated as 1

	currentTF            uint64
	currentTFOrbitBegin  uint64
	firstTFOrbit         uint64
	haveFirstOrbit       bool
	softwareClockStart   time.Time
	timeframeRate        float64
	lastPacketCounter    [rdh.MaxLinks]uint8
	havePacketCounter    [rdh.MaxLinks]bool
	lastDropCheck        time.Time
	lastDroppedCount     uint64
	nMemoryLow           uint64 // ResourceExhausted count; not part of the observable counter set

	counters Counters
}

// New constructs a Producer bound to driver and pool, depositing harvested
// pages into output.
func New(driver dma.Driver, pool *pagepool.Pool, output *boundedqueue.Queue[pagepool.Page], cfg Config, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OrbitRate <= 0 {
		cfg.OrbitRate = 11246
	}
	if cfg.TFPeriodOrbits == 0 {
		cfg.TFPeriodOrbits = 256
	}
	return &Producer{
		cfg:           cfg,
		driver:        driver,
		pool:          pool,
		output:        output,
		logger:        logger,
		state:         StateUninit,
		timeframeRate: cfg.OrbitRate / float64(cfg.TFPeriodOrbits),
	}
}

// Open opens the driver channel, transitioning Uninit to Initialized.
func (p *Producer) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateUninit {
		return fmt.Errorf("%w: open requires Uninit, have %s", ErrWrongState, p.state)
	}
	if err := p.driver.Open(); err != nil {
		return fmt.Errorf("equipment: driver open: %w", err)
	}
	p.state = StateInitialized
	return nil
}

// Start enables DMA and captures the driver's transfer-queue depth,
// transitioning Initialized to Running.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateInitialized {
		return fmt.Errorf("%w: start requires Initialized, have %s", ErrWrongState, p.state)
	}
	q, err := p.driver.Start()
	if err != nil {
		return fmt.Errorf("equipment: driver start: %w", err)
	}
	if q <= 0 {
		q = 1
	}
	p.q = q
	p.softwareClockStart = time.Now()
	p.state = StateRunning
	return nil
}

// Stop disables DMA and returns Running to Initialized. Any page still
// owned by the driver's ready queue that is not harvested is released
// back to the pool.
func (p *Producer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return fmt.Errorf("%w: stop requires Running, have %s", ErrWrongState, p.state)
	}
	p.state = StateStopping
	if err := p.driver.Stop(); err != nil {
		return fmt.Errorf("equipment: driver stop: %w", err)
	}
	for {
		sp, ready, ok := p.driver.PopReady()
		if !ok {
			break
		}
		if pg, isPage := sp.UserData.(pagepool.Page); isPage {
			p.pool.Release(pg)
		}
		_ = ready
	}
	p.state = StateInitialized
	return nil
}

// Teardown closes the driver channel, transitioning to Stopped.
func (p *Producer) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.driver.Close(); err != nil {
		return fmt.Errorf("equipment: driver close: %w", err)
	}
	p.state = StateStopped
	return nil
}

// State returns the producer's current lifecycle state.
func (p *Producer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counters returns a snapshot of the observable counters.
func (p *Producer) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// Tick performs one non-blocking scheduling quantum: drop monitor, refill,
// harvest, in that order.
func (p *Producer) Tick() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return ResultIdle
	}

	fatal := p.dropMonitor()

	pushed := p.refill()
	harvested := p.harvest()

	if fatal {
		p.logger.Error("equipment producer: dropped-packet threshold escalated to fatal")
		return ResultError
	}

	if pushed < p.q/4 && harvested == 0 {
		return ResultIdle
	}
	return ResultOk
}

// dropMonitor reads the driver's dropped-packet counter at most once per
// second, returning true if stopOnError escalation is triggered.
func (p *Producer) dropMonitor() bool {
	now := time.Now()
	if !p.lastDropCheck.IsZero() && now.Sub(p.lastDropCheck) < time.Second {
		return false
	}
	p.lastDropCheck = now
	total := p.driver.DroppedSince()
	delta := total - p.lastDroppedCount
	p.lastDroppedCount = total
	if delta == 0 {
		return false
	}
	p.counters.DroppedByDriver += delta
	p.logger.Warn("equipment producer: driver reported dropped packets", "delta", delta, "total", total)
	return p.cfg.StopOnError
}

func (p *Producer) refill() int {
	pushed := 0
	for pushed < p.q {
		pg, ok := p.pool.Acquire()
		if !ok {
			p.nMemoryLow++ // resource exhausted, counted not fatal
			break
		}
		if p.cfg.CleanPageBeforeUse {
			for i := range pg.Payload {
				pg.Payload[i] = 0
			}
		}
		sp := dma.Superpage{Offset: 0, Size: len(pg.Payload), UserData: pg}
		accepted, err := p.driver.PushSuperpage(sp)
		if err != nil || !accepted {
			p.pool.Release(pg)
			break
		}
		pushed++
	}
	return pushed
}

func (p *Producer) harvest() int {
	harvested := 0
	for {
		if p.output.IsFull() {
			p.counters.PushBlockedIdle++
			break
		}
		sp, ready, ok := p.driver.PopReady()
		if !ok {
			break
		}
		pg, isPage := sp.UserData.(pagepool.Page)
		if !isPage || !p.pool.IsValid(pg) {
			p.counters.PagesLost++
			p.logger.Warn("equipment producer: invalid page from driver", "isPage", isPage)
			if isPage {
				p.pool.Release(pg)
			}
			continue
		}
		if !ready {
			// leftover superpage from stop: release silently, counts as empty.
			p.pool.Release(pg)
			p.counters.PagesEmpty++
			continue
		}
		buf := pg.Payload
		p.decorate(&pg, buf)
		if p.cfg.RdhCheckEnabled {
			p.validate(buf)
		}
		p.counters.PagesIn++
		p.output.Push(pg) // capacity was checked above; this SPSC queue has no other producer
		harvested++
	}
	return harvested
}

// decorate derives {equipmentId, linkId, timeframeId} for pg either from
// the first embedded frame header or from the software clock.
func (p *Producer) decorate(pg *pagepool.Page, buf []byte) {
	pg.Header.EquipmentID = pagepool.UndefinedEquipmentID
	pg.Header.LinkID = pagepool.UndefinedLinkID
	pg.Header.DataSize = uint32(len(buf))

	if p.cfg.RdhUseFirstInPageEnabled {
		h, err := rdh.Decode(buf)
		if err != nil || rdh.Validate(h, len(buf), 0) != nil {
			p.logger.Warn("equipment producer: first-header decode/validate failed, using defaults", "err", err)
			pg.Header.TimeframeID = p.currentTF
			return
		}
		equipmentID := uint16(h.CruID)
		if equipmentID == 0 {
			equipmentID = pagepool.UndefinedEquipmentID
		}
		pg.Header.EquipmentID = equipmentID
		pg.Header.LinkID = h.LinkID
		pg.Header.TimeframeID = p.advanceHardwareTF(uint64(h.HbOrbit))
		return
	}

	pg.Header.TimeframeID = p.advanceSoftwareTF()
}

// advanceHardwareTF updates the timeframe boundary tracking from a page's
// heartbeat-orbit counter, per the derivation rule of the component design.
func (p *Producer) advanceHardwareTF(hbOrbit uint64) uint64 {
	period := p.cfg.TFPeriodOrbits
	if !p.haveFirstOrbit {
		p.firstTFOrbit = hbOrbit
		p.currentTFOrbitBegin = hbOrbit
		p.currentTF = 1
		p.haveFirstOrbit = true
		p.counters.Timeframes++
		return p.currentTF
	}
	if hbOrbit >= p.currentTFOrbitBegin+period {
		p.currentTFOrbitBegin = hbOrbit - ((hbOrbit - p.firstTFOrbit) % period)
		newTF := 1 + (p.currentTFOrbitBegin-p.firstTFOrbit)/period
		if newTF != p.currentTF+1 {
			p.logger.Warn("equipment producer: non-contiguous timeframe", "expected", p.currentTF+1, "got", newTF)
		}
		p.currentTF = newTF
		p.counters.Timeframes++
	}
	return p.currentTF
}

// advanceSoftwareTF increments currentTF once per 1/timeframeRate seconds,
// independently of page arrivals.
func (p *Producer) advanceSoftwareTF() uint64 {
	if p.softwareClockStart.IsZero() {
		p.softwareClockStart = time.Now()
	}
	elapsed := time.Since(p.softwareClockStart).Seconds()
	tf := uint64(elapsed*p.timeframeRate) + 1
	if tf != p.currentTF {
		p.currentTF = tf
		p.counters.Timeframes++
	}
	return p.currentTF
}

// validate walks the chained embedded headers, enforcing the optional
// in-page checks: link-id consistency, TF-change-mid-page, and packet
// counter contiguity.
func (p *Producer) validate(buf []byte) {
	var firstLink uint8
	haveFirstLink := false

	err := rdh.WalkPackets(buf, func(h rdh.FrameHeader, offset int) error {
		if !haveFirstLink {
			firstLink = h.LinkID
			haveFirstLink = true
		} else if h.LinkID != firstLink {
			p.counters.RdhStreamErr++
			return fmt.Errorf("stream-inconsistency: link changed mid-page")
		}
		if uint64(h.HbOrbit) >= p.currentTFOrbitBegin+p.cfg.TFPeriodOrbits {
			p.counters.RdhStreamErr++
			return fmt.Errorf("tf-change-mid-page")
		}
		if p.cfg.RdhCheckPacketCounterContiguous && h.LinkID != rdh.UndefinedLinkID && int(h.LinkID) < rdh.MaxLinks {
			li := h.LinkID
			if p.havePacketCounter[li] {
				want := p.lastPacketCounter[li] + 1
				if h.PacketCounter != want {
					p.logger.Warn("equipment producer: possible packet drop", "link", li, "got", h.PacketCounter, "want", want)
				}
			}
			p.lastPacketCounter[li] = h.PacketCounter
			p.havePacketCounter[li] = true
		}
		p.counters.RdhOk++
		return nil
	})
	if err != nil {
		p.counters.RdhErr++
		if p.shouldDump() {
			p.logger.Error("equipment producer: rdh validation failed", "err", err, "dump", rdh.HexDump(buf, p.dumpLen()))
		}
	}
}

func (p *Producer) shouldDump() bool {
	return p.cfg.RdhDumpEnabled != 0 || p.cfg.RdhDumpErrorEnabled
}

func (p *Producer) dumpLen() int {
	if p.cfg.RdhDumpEnabled < 0 {
		return -p.cfg.RdhDumpEnabled
	}
	return 64
}

// Run drives Tick in a loop with a short inter-tick sleep on Idle, until
// ctx is cancelled. It is the goroutine wrapper a host process spawns per
// producer; Tick itself remains safe to drive manually in tests.
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch p.Tick() {
		case ResultError:
			return
		case ResultIdle:
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		case ResultOk:
		}
	}
}
