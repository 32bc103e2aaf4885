package librq

import (
	"time"

	"github.com/armon/go-metrics"
)

// metricsSink is the subset of *metrics.Metrics the client uses, so tests
// can swap in a no-op sink without standing up a real metrics.Metrics.
type metricsSink interface {
	IncrCounter(key []string, val float32)
	MeasureSince(key []string, start time.Time)
}

// globalSink routes through armon/go-metrics' package-level functions,
// which report to whatever global *metrics.Metrics the process has set up
// via metrics.NewGlobal (or the package's own lazily-initialized default
// if the process never called it) — the same no-setup-required path
// serf's agent relies on for its own instrumentation.
type globalSink struct{}

func (globalSink) IncrCounter(key []string, val float32)        { metrics.IncrCounter(key, val) }
func (globalSink) MeasureSince(key []string, start time.Time)   { metrics.MeasureSince(key, start) }

// newMetricsSink returns cfg.Metrics if set, or the package-level
// armon/go-metrics sink.
func newMetricsSink(cfg Config) metricsSink {
	if cfg.Metrics != nil {
		return cfg.Metrics
	}
	return globalSink{}
}

// The handful of metric keys the client emits. emit/emitSince append the
// client's instance id as the last key segment so measurements from multiple
// Clients in one process don't collide.
var (
	metricSend             = []string{"librq", "send"}
	metricReply             = []string{"librq", "reply"}
	metricRequestDelivered  = []string{"librq", "request", "delivered"}
	metricRequestUndelivered = []string{"librq", "request", "undelivered"}
	metricFailover          = []string{"librq", "failover"}
	metricConnectAttempt    = []string{"librq", "connect", "attempt"}
	metricConnectSuccess    = []string{"librq", "connect", "success"}
	metricConnectLatency    = []string{"librq", "connect", "latency"}
)

func (c *Client) emit(key []string) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncrCounter(append(append([]string{}, key...), c.id), 1)
}

func (c *Client) emitSince(key []string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.MeasureSince(append(append([]string{}, key...), c.id), start)
}
