package observability

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineGauges is the read side of the engine sampled at scrape time.
type EngineGauges interface {
	BucketCount() int
	LogSize() int
}

type gaugeSource struct {
	EngineGauges
}

// engineCollector reports engine size on every scrape from whichever engine
// was bound last.
type engineCollector struct {
	source  atomic.Pointer[gaugeSource]
	buckets *prometheus.Desc
	logs    *prometheus.Desc
}

func newEngineCollector(engine EngineGauges) *engineCollector {
	c := &engineCollector{
		buckets: prometheus.NewDesc("ratelimiter_active_buckets",
			"Number of client buckets currently held in memory.", nil, nil),
		logs: prometheus.NewDesc("ratelimiter_log_entries",
			"Number of decisions held in the recent-decision log.", nil, nil),
	}
	c.bind(engine)
	return c
}

func (c *engineCollector) bind(engine EngineGauges) {
	c.source.Store(&gaugeSource{engine})
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.buckets
	ch <- c.logs
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	src := c.source.Load()
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(src.BucketCount()))
	ch <- prometheus.MustNewConstMetric(c.logs, prometheus.GaugeValue, float64(src.LogSize()))
}

// RegisterEngineCollector registers gauges that read engine size on every
// scrape. Registering again on the same registry points the existing gauges
// at the new engine.
func RegisterEngineCollector(reg prometheus.Registerer, engine EngineGauges) error {
	err := reg.Register(newEngineCollector(engine))
	if err == nil {
		return nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*engineCollector); ok {
			existing.bind(engine)
			return nil
		}
	}
	return err
}
