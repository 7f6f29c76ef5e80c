// Package stats implements a minimal demonstration consumer: it drains the
// aggregator's output queue, accumulates byte and block counters, and logs
// a periodic summary. It is wired only from cmd/tfaggd and exercises no
// core package's internals.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coredaq/tfagg/aggregator"
	"github.com/coredaq/tfagg/pagepool"
)

// Consumer drains frames from an aggregator output queue, releasing their
// pages back to the pool after accounting for them.
type Consumer struct {
	output        *aggregator.OutputQueue
	pool          *pagepool.Pool
	logger        *slog.Logger
	reportEvery   time.Duration

	counterBlocks     atomic.Uint64
	counterBytesTotal atomic.Uint64
	counterTimeframes atomic.Uint64
}

// New creates a Consumer draining output and releasing pages to pool, with
// a periodic summary logged every reportEvery (zero disables periodic
// logging; the caller can still call Counters directly).
func New(output *aggregator.OutputQueue, pool *pagepool.Pool, logger *slog.Logger, reportEvery time.Duration) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{output: output, pool: pool, logger: logger, reportEvery: reportEvery}
}

// Snapshot is a point-in-time read of the consumer's counters.
type Snapshot struct {
	Blocks     uint64
	BytesTotal uint64
	Timeframes uint64
}

// Counters returns the current counter values.
func (c *Consumer) Counters() Snapshot {
	return Snapshot{
		Blocks:     c.counterBlocks.Load(),
		BytesTotal: c.counterBytesTotal.Load(),
		Timeframes: c.counterTimeframes.Load(),
	}
}

// Run drains output until ctx is cancelled, logging a summary every
// reportEvery (if positive) and once more on exit.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer stats: starting")
	defer c.logger.Info("consumer stats: stopping", "summary", c.summaryLine())

	var ticker *time.Ticker
	var tickerC <-chan time.Time
	if c.reportEvery > 0 {
		ticker = time.NewTicker(c.reportEvery)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickerC:
			c.logger.Info("consumer stats: summary", "summary", c.summaryLine())
		default:
			if !c.pushData() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
	}
}

// pushData drains one available frame, if any, returning true if it did.
func (c *Consumer) pushData() bool {
	f, ok := c.output.Pop()
	if !ok {
		return false
	}
	var bytes uint64
	for _, p := range f.DataSet.Pages {
		bytes += uint64(p.Header.DataSize)
		if c.pool != nil {
			c.pool.Release(p)
		}
	}
	c.counterBlocks.Add(uint64(len(f.DataSet.Pages)))
	c.counterBytesTotal.Add(bytes)
	c.counterTimeframes.Add(1)
	return true
}

func (c *Consumer) summaryLine() string {
	s := c.Counters()
	return fmt.Sprintf("timeframes=%d blocks=%d bytes=%s", s.Timeframes, s.Blocks, numberOfBytesToString(s.BytesTotal))
}

// numberOfBytesToString formats a byte count with a binary-prefix unit,
// matching the rate-formatting convention a periodic DAQ summary uses.
func numberOfBytesToString(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
