package metrics

import (
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vicliu624/trail-mate-center-sub001/internal/aprs"
	"github.com/vicliu624/trail-mate-center-sub001/internal/aprsis"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

func newTestCollector() *Collector {
	uplink := aprsis.NewClient(log.NewNopLogger(), aprsis.Config{})
	gw := aprs.NewGateway(store.New(), uplink, log.NewNopLogger(), aprs.GatewayConfig{})
	return NewCollector(gw, uplink)
}

func TestCollectorExposesAllDescriptors(t *testing.T) {
	n := testutil.CollectAndCount(newTestCollector())
	if n != 7 {
		t.Fatalf("expected 7 metric families, got %d", n)
	}
}

func TestCollectorReportsOneGatewaySentSample(t *testing.T) {
	got := testutil.CollectAndCount(newTestCollector(), "tmcgwd_gateway_sent_total")
	if got != 1 {
		t.Fatalf("expected exactly one gateway_sent_total sample, got %d", got)
	}
}
