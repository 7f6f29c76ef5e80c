// Package internal implements the concrete Aggregator behind the public
// aggregator package: a single worker goroutine that fair-merges N
// per-equipment queues through N Slicers into one bounded output queue.
// It is a direct port of the original readout's
// DataBlockAggregator::executeCallback round-robin loop.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coredaq/tfagg/boundedqueue"
	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/slicer"
)

// maxLoop bounds the work a single tick performs per input, so a tick is
// always bounded even under a saturated input.
const maxLoop = 1024

// Frame is one completed DataSet wrapped with an out-of-band trace id for
// external correlation; it participates in no core invariant.
type Frame struct {
	DataSet slicer.DataSet
	TraceID string
}

// Result is the outcome of one tick, mirroring the original's
// Thread::CallbackResult.
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

// Input is the per-equipment queue the Aggregator drains, produced by one
// EquipmentProducer.
type Input = *boundedqueue.Queue[pagepool.Page]

// ReleaseFunc returns a page to its owning pool.
type ReleaseFunc func(pagepool.Page) error

// Aggregator fair-merges N inputs through N Slicers into one bounded
// output queue.
type Aggregator struct {
	inputs  []Input
	slicers []*slicer.Slicer
	output  *boundedqueue.Queue[Frame]
	release ReleaseFunc
	logger  *slog.Logger
	clock   func() float64

	disableSlicing bool
	sliceTimeout   float64 // seconds; 0 disables

	nextIndex     int
	doFlush       atomic.Bool
	totalBlocksIn uint64

	stop   atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config collects the construction-time parameters an Aggregator needs.
type Config struct {
	DisableSlicing bool
	SliceTimeout   float64
	OutputCapacity int
	Logger         *slog.Logger
	Clock          func() float64 // defaults to a wall-clock monotonic source
}

// New creates an Aggregator with no inputs attached; call AddInput for each
// EquipmentProducer before Start.
func New(cfg Config) (*Aggregator, error) {
	out, err := boundedqueue.New[Frame](cfg.OutputCapacity)
	if err != nil {
		return nil, fmt.Errorf("aggregator: output queue: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		start := time.Now()
		clock = func() float64 { return time.Since(start).Seconds() }
	}
	return &Aggregator{
		output:         out,
		logger:         logger,
		clock:          clock,
		disableSlicing: cfg.DisableSlicing,
		sliceTimeout:   cfg.SliceTimeout,
	}, nil
}

// AddInput attaches a new per-equipment queue and its dedicated Slicer.
// Must be called before Start.
func (a *Aggregator) AddInput(q Input) {
	a.slicers = append(a.slicers, slicer.New(len(a.inputs)))
	a.inputs = append(a.inputs, q)
}

// Output returns the aggregator's bounded output queue.
func (a *Aggregator) Output() *boundedqueue.Queue[Frame] { return a.output }

// SetRelease installs the function used to return pages to their pool
// during Stop's drain pass.
func (a *Aggregator) SetRelease(fn ReleaseFunc) { a.release = fn }

// Start resets the round-robin cursor and the flush and stop flags, and
// spawns the worker goroutine. Slicer ids are assigned by AddInput (each
// input's index); the clock keeps the baseline it was given at New.
func (a *Aggregator) Start(ctx context.Context) {
	a.nextIndex = 0
	a.doFlush.Store(false)
	a.stop.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.loop(runCtx)
}

// Flush requests that all open sets be closed once every input has gone
// idle; the next Idle tick is the point flushing is considered complete.
func (a *Aggregator) Flush() { a.doFlush.Store(true) }

// Stop halts the worker. If wait is true, Stop blocks until the worker has
// exited, then drains every input and the output queue, releasing all
// contained pages.
func (a *Aggregator) Stop(wait bool) {
	a.stop.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
	if !wait {
		return
	}
	a.wg.Wait()
	a.drain()
	a.logger.Info("aggregator stopped", "blocksIn", atomic.LoadUint64(&a.totalBlocksIn))
}

func (a *Aggregator) drain() {
	for _, in := range a.inputs {
		for {
			p, ok := in.Pop()
			if !ok {
				break
			}
			if a.release != nil {
				a.release(p)
			}
		}
	}
	for _, s := range a.slicers {
		if a.release != nil {
			s.Drain(a.release)
		}
	}
	for {
		f, ok := a.output.Pop()
		if !ok {
			break
		}
		if a.release != nil {
			for _, p := range f.DataSet.Pages {
				a.release(p)
			}
		}
	}
}

func (a *Aggregator) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if a.stop.Load() {
			return
		}
		res := a.tick()
		switch res {
		case ResultError:
			a.logger.Error("aggregator tick fatal error, stopping")
			return
		case ResultIdle:
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		case ResultOk:
			// immediately try again
		}
	}
}

// Tick runs exactly one scheduling quantum. Exposed for deterministic
// tests; the worker goroutine calls it in a loop with inter-tick sleep.
func (a *Aggregator) Tick() Result { return a.tick() }

func (a *Aggregator) tick() Result {
	if a.output.IsFull() {
		return ResultIdle
	}
	nInputs := len(a.inputs)
	if nInputs == 0 {
		return ResultIdle
	}

	nBlocksIn := 0
	nSlicesOut := 0
	now := a.clock()

	for ix := 0; ix < nInputs; ix++ {
		i := (ix + a.nextIndex) % nInputs

		if a.disableSlicing {
			if a.output.IsFull() {
				return ResultIdle
			}
			p, ok := a.inputs[i].Pop()
			if !ok {
				continue
			}
			nBlocksIn++
			a.totalBlocksIn++
			frame := Frame{
				DataSet: slicer.DataSet{
					Source:      slicer.SourceId{EquipmentID: p.Header.EquipmentID, LinkID: p.Header.LinkID},
					TimeframeID: p.Header.TimeframeID,
					Pages:       []pagepool.Page{p},
				},
				TraceID: uuid.NewString(),
			}
			a.output.Push(frame)
			nSlicesOut++
			continue
		}

		for j := 0; j < maxLoop; j++ {
			if a.inputs[i].IsEmpty() {
				break
			}
			p, ok := a.inputs[i].Pop()
			if !ok {
				break
			}
			nBlocksIn++
			a.totalBlocksIn++
			if _, err := a.slicers[i].AppendBlock(p, now); err != nil {
				a.logger.Error("slicer invariant violation", "input", i, "err", err)
				return ResultError
			}
		}

		if a.sliceTimeout > 0 {
			a.slicers[i].CompleteOnTimeout(now - a.sliceTimeout)
		}

		for j := 0; j < maxLoop; j++ {
			if a.output.IsFull() {
				return ResultIdle
			}
			includeIncomplete := a.doFlush.Load() && a.inputs[i].IsEmpty()
			d, ok := a.slicers[i].GetSlice(includeIncomplete)
			if !ok {
				break
			}
			a.output.Push(Frame{DataSet: d, TraceID: uuid.NewString()})
			nSlicesOut++
			a.nextIndex = i + 1
		}
	}

	if nBlocksIn == 0 && nSlicesOut == 0 {
		if a.doFlush.Load() {
			a.doFlush.Store(false)
		}
		return ResultIdle
	}
	return ResultOk
}
