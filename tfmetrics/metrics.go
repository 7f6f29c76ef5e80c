// Package tfmetrics exports the observable counters of the equipment and
// aggregator layers as Prometheus metrics over an opt-in HTTP endpoint. It
// is never imported by the core packages; the host wires it up only when
// metrics.enabled is set.
package tfmetrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config gates the exporter and its listen address.
type Config struct {
	Enabled bool
	Addr    string
}

// Counters is the set of gauges/counters one equipment producer registers.
// It mirrors equipment.Counters; the aggregator's output queue depth is a
// separate gauge on Registry.
type Counters struct {
	PagesIn         prometheus.Counter
	PagesEmpty      prometheus.Counter
	PagesLost       prometheus.Counter
	Timeframes      prometheus.Counter
	RdhOk           prometheus.Counter
	RdhErr          prometheus.Counter
	RdhStreamErr    prometheus.Counter
	DroppedByDriver prometheus.Counter
	PushBlockedIdle prometheus.Counter
}

// Registry owns the Prometheus registry, the per-equipment counter sets, and
// the aggregator output-queue-depth gauge.
type Registry struct {
	reg *prometheus.Registry

	outputQueueDepth prometheus.Gauge

	server *http.Server
}

// New creates a Registry with the aggregator's outputQueueDepth gauge
// already registered. Per-equipment counters are added via NewCounters.
func New() *Registry {
	reg := prometheus.NewRegistry()
	depth := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: "tfagg",
		Name:      "output_queue_depth",
		Help:      "Current number of frames queued in the aggregator output queue.",
	})
	return &Registry{reg: reg, outputQueueDepth: depth}
}

// NewCounters registers one labeled counter set for an equipment producer
// identified by name.
func (r *Registry) NewCounters(equipmentName string) Counters {
	f := promauto.With(r.reg)
	labels := prometheus.Labels{"equipment": equipmentName}
	mk := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "tfagg",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return Counters{
		PagesIn:         mk("pages_in_total", "Pages harvested from the DMA driver."),
		PagesEmpty:      mk("pages_empty_total", "Leftover ready superpages drained with no data."),
		PagesLost:       mk("pages_lost_total", "Pages rejected as invalid or stray pool references."),
		Timeframes:      mk("timeframes_total", "Distinct timeframe boundaries observed."),
		RdhOk:           mk("rdh_ok_total", "Embedded frame headers that passed validation."),
		RdhErr:          mk("rdh_err_total", "Pages that failed embedded frame header validation."),
		RdhStreamErr:    mk("rdh_stream_err_total", "Stream-consistency violations across chained headers."),
		DroppedByDriver: mk("dropped_by_driver_total", "Packets the DMA driver itself reported dropped."),
		PushBlockedIdle: mk("push_blocked_idle_total", "Ticks where harvest stalled on a full output queue."),
	}
}

// SetOutputQueueDepth updates the aggregator output-queue-depth gauge.
func (r *Registry) SetOutputQueueDepth(n int) {
	r.outputQueueDepth.Set(float64(n))
}

// Observe copies a snapshot's values into a registered Counters set. Since
// Prometheus counters are monotonic and the snapshot is a cumulative total,
// Observe adds only the delta since the previous call.
func (c Counters) Observe(prev, cur Snapshot) {
	addDelta(c.PagesIn, prev.PagesIn, cur.PagesIn)
	addDelta(c.PagesEmpty, prev.PagesEmpty, cur.PagesEmpty)
	addDelta(c.PagesLost, prev.PagesLost, cur.PagesLost)
	addDelta(c.Timeframes, prev.Timeframes, cur.Timeframes)
	addDelta(c.RdhOk, prev.RdhOk, cur.RdhOk)
	addDelta(c.RdhErr, prev.RdhErr, cur.RdhErr)
	addDelta(c.RdhStreamErr, prev.RdhStreamErr, cur.RdhStreamErr)
	addDelta(c.DroppedByDriver, prev.DroppedByDriver, cur.DroppedByDriver)
	addDelta(c.PushBlockedIdle, prev.PushBlockedIdle, cur.PushBlockedIdle)
}

func addDelta(c prometheus.Counter, prev, cur uint64) {
	if cur <= prev {
		return
	}
	c.Add(float64(cur - prev))
}

// Snapshot is the subset of equipment.Counters needed to feed Observe,
// duplicated here so this package never imports equipment (metrics stays a
// leaf dependency consumed only by cmd/tfaggd).
type Snapshot struct {
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

// ErrDisabled is returned by Serve when cfg.Enabled is false.
var ErrDisabled = errors.New("tfmetrics: exporter disabled")

// Serve starts the HTTP exporter and blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return ErrDisabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("tfmetrics: listen %s: %w", cfg.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = r.server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
