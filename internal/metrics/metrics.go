// Package metrics exposes the daemon's counters as Prometheus metrics,
// grounded on TCPInfoCollector's pull-model Collector
// (runZeroInc-sockstats/pkg/exporter/exporter.go): a Describe/Collect
// pair over a fixed set of descriptors whose counter values are read on
// every scrape rather than pushed as they change.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vicliu624/trail-mate-center-sub001/internal/aprs"
	"github.com/vicliu624/trail-mate-center-sub001/internal/aprsis"
)

const namespace = "tmcgwd"

// Collector implements prometheus.Collector over the gateway service's
// and APRS-IS client's counters.
type Collector struct {
	gateway *aprs.Gateway
	uplink  *aprsis.Client

	gatewayErrors      *prometheus.Desc
	gatewayDropped     *prometheus.Desc
	gatewayRateLimited *prometheus.Desc
	gatewayDedupeHits  *prometheus.Desc
	gatewaySent        *prometheus.Desc
	uplinkSent         *prometheus.Desc
	uplinkDropped      *prometheus.Desc
}

// NewCollector constructs a Collector bound to the gateway service and
// APRS-IS client whose counters it will scrape.
func NewCollector(gateway *aprs.Gateway, uplink *aprsis.Client) *Collector {
	return &Collector{
		gateway: gateway,
		uplink:  uplink,
		gatewayErrors: prometheus.NewDesc(
			namespace+"_gateway_errors_total", "Candidates dropped for missing required RX metadata.", nil, nil),
		gatewayDropped: prometheus.NewDesc(
			namespace+"_gateway_dropped_total", "Candidates dropped by the loop-prevention ingress gate.", nil, nil),
		gatewayRateLimited: prometheus.NewDesc(
			namespace+"_gateway_rate_limited_total", "Candidates dropped by per-source rate limiting.", nil, nil),
		gatewayDedupeHits: prometheus.NewDesc(
			namespace+"_gateway_dedupe_hits_total", "Candidates dropped as duplicates of a recently seen packet.", nil, nil),
		gatewaySent: prometheus.NewDesc(
			namespace+"_gateway_sent_total", "Lines handed to the APRS-IS uplink queue.", nil, nil),
		uplinkSent: prometheus.NewDesc(
			namespace+"_aprsis_sent_total", "Lines successfully written to the APRS-IS socket.", nil, nil),
		uplinkDropped: prometheus.NewDesc(
			namespace+"_aprsis_dropped_total", "Lines dropped by the APRS-IS outbound queue (full or expired).", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gatewayErrors
	ch <- c.gatewayDropped
	ch <- c.gatewayRateLimited
	ch <- c.gatewayDedupeHits
	ch <- c.gatewaySent
	ch <- c.uplinkSent
	ch <- c.uplinkDropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gw := c.gateway.Counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.gatewayErrors, prometheus.CounterValue, float64(gw.Errors))
	ch <- prometheus.MustNewConstMetric(c.gatewayDropped, prometheus.CounterValue, float64(gw.Dropped))
	ch <- prometheus.MustNewConstMetric(c.gatewayRateLimited, prometheus.CounterValue, float64(gw.RateLimited))
	ch <- prometheus.MustNewConstMetric(c.gatewayDedupeHits, prometheus.CounterValue, float64(gw.DedupeHits))
	ch <- prometheus.MustNewConstMetric(c.gatewaySent, prometheus.CounterValue, float64(gw.Sent))

	ch <- prometheus.MustNewConstMetric(c.uplinkSent, prometheus.CounterValue, float64(c.uplink.Counters.Sent.Load()))
	ch <- prometheus.MustNewConstMetric(c.uplinkDropped, prometheus.CounterValue, float64(c.uplink.Counters.Dropped.Load()))
}
