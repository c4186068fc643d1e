package daemon

import (
	"github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reactor"

// Collector exports reactor.Stats as prometheus metrics. Stats are read at
// scrape time, so it is safe to register while the loop runs.
type Collector struct {
	stats func() reactor.Stats

	iterations      *prometheus.Desc
	pollErrors      *prometheus.Desc
	dispatches      *prometheus.Desc
	sources         *prometheus.Desc
	invokes         *prometheus.Desc
	invokesRejected *prometheus.Desc
	invokesRun      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading stats from the given func,
// typically (*reactor.Loop).Stats. Constant labels may be nil.
func NewCollector(stats func() reactor.Stats, labels prometheus.Labels) *Collector {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "loop", name), help, variable, labels)
	}
	return &Collector{
		stats:           stats,
		iterations:      desc("iterations_total", "Loop iterations, including failed polls."),
		pollErrors:      desc("poll_errors_total", "Iterations whose poll failed."),
		dispatches:      desc("dispatches_total", "Source callbacks dispatched."),
		sources:         desc("sources", "Sources currently registered."),
		invokes:         desc("invokes_total", "Accepted invocations by mode.", "mode"),
		invokesRejected: desc("invokes_rejected_total", "Invocations rejected because the queue was full."),
		invokesRun:      desc("invokes_run_total", "Queued invocations executed on the loop."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.iterations
	ch <- c.pollErrors
	ch <- c.dispatches
	ch <- c.sources
	ch <- c.invokes
	ch <- c.invokesRejected
	ch <- c.invokesRun
}

// Collect implements prometheus.Collector, reading the stats once.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.iterations, st.Iterations)
	counter(c.pollErrors, st.PollErrors)
	counter(c.dispatches, st.Dispatches)
	ch <- prometheus.MustNewConstMetric(c.sources, prometheus.GaugeValue, float64(st.Sources))
	counter(c.invokes, st.InvokesInline, "inline")
	counter(c.invokes, st.InvokesQueued, "queued")
	counter(c.invokesRejected, st.InvokesRejected)
	counter(c.invokesRun, st.InvokesRun)
}
