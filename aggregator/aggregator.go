// Package aggregator owns the single bounded output queue and round-robin
// worker that fair-merges N per-equipment page queues, through one Slicer
// per input, into completed DataSets.
package aggregator

import (
	"context"

	"github.com/coredaq/tfagg/aggregator/internal"
	"github.com/coredaq/tfagg/boundedqueue"
)

// OutputQueue is the concrete type of an Aggregator's output queue.
type OutputQueue = boundedqueue.Queue[Frame]

// Frame is one completed DataSet stamped with a trace id for external
// correlation.
type Frame = internal.Frame

// Result is the outcome of one scheduling tick.
type Result = internal.Result

const (
	ResultOk    = internal.ResultOk
	ResultIdle  = internal.ResultIdle
	ResultError = internal.ResultError
)

// Input is the per-equipment bounded queue type an Aggregator drains.
type Input = internal.Input

// ReleaseFunc returns a page to its owning pool.
type ReleaseFunc = internal.ReleaseFunc

// Config collects the construction-time parameters an Aggregator needs.
type Config = internal.Config

// Aggregator fair-merges N inputs through N Slicers into one bounded
// output queue, enforcing round-robin fairness, backpressure, a per-slice
// inactivity timeout, and a drain-on-stop flush.
type Aggregator struct {
	impl *internal.Aggregator
}

// New creates an Aggregator with no inputs attached.
func New(cfg Config) (*Aggregator, error) {
	impl, err := internal.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Aggregator{impl: impl}, nil
}

// AddInput attaches a new per-equipment queue and its dedicated Slicer.
// Must be called before Start.
func (a *Aggregator) AddInput(q Input) { a.impl.AddInput(q) }

// Output returns the aggregator's bounded output queue.
func (a *Aggregator) Output() *OutputQueue { return a.impl.Output() }

// SetRelease installs the function used to return pages to their pool.
func (a *Aggregator) SetRelease(fn ReleaseFunc) { a.impl.SetRelease(fn) }

// Start resets the round-robin cursor and spawns the worker goroutine.
// Slicer ids are assigned earlier, by AddInput (each input's index); the
// clock is not reset. ctx cancellation stops the worker the same way
// Stop(false) does.
func (a *Aggregator) Start(ctx context.Context) { a.impl.Start(ctx) }

// Flush requests all open sets be closed once inputs go idle.
func (a *Aggregator) Flush() { a.impl.Flush() }

// Stop halts the worker; if wait, it blocks until the worker exits and
// drains every queue, releasing all contained pages.
func (a *Aggregator) Stop(wait bool) { a.impl.Stop(wait) }

// Tick runs exactly one scheduling quantum; exposed for deterministic
// tests.
func (a *Aggregator) Tick() Result { return a.impl.Tick() }
