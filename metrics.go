package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"

	col "github.com/conroydamien/eth-squid-station/collect"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "squid_cycles_total", Help: "Ingestion cycles by outcome"},
		[]string{"status"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "squid_cycle_duration_seconds", Help: "Committed cycle latency", Buckets: prometheus.DefBuckets},
	)
	fallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "squid_fallback_total", Help: "Tiers filled in with the fastest price"},
		[]string{"tier"},
	)
	trainTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "squid_train_total", Help: "Confirmation model training runs by outcome"},
		[]string{"status"},
	)
	headHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "squid_head_height", Help: "Chain head as last polled"},
	)
	cursorHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "squid_cursor_height", Help: "Next block to be processed"},
	)
	confirmScore = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "squid_confirm_score", Help: "R2 score of the current confirmation model"},
	)
	rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "squid_rpc_requests_total", Help: "App RPC requests"},
		[]string{"code"},
	)
	rpcRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "squid_rpc_request_duration_seconds", Help: "App RPC latency", Buckets: prometheus.DefBuckets},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, fallbackTotal, trainTotal,
		headHeight, cursorHeight, confirmScore, rpcRequestsTotal, rpcRequestDuration)
}

// newTimer registers a timer which keeps about size samples in the
// go-metrics default registry, served by the metrics RPC.
func newTimer(name string, size int) metrics.Timer {
	if size < 1 {
		size = 1
	}
	return metrics.GetOrRegister(name, func() metrics.Timer {
		return metrics.NewCustomTimer(metrics.NewHistogram(
			metrics.NewSimpleExpDecaySample(size)), metrics.NewMeter())
	}).(metrics.Timer)
}

// timedBlockGetter wraps getBlock with a timer.
func timedBlockGetter(getBlock col.BlockGetter, t metrics.Timer) col.BlockGetter {
	return func(ctx context.Context, height int64) (col.Block, error) {
		start := time.Now()
		defer t.UpdateSince(start)
		return getBlock(ctx, height)
	}
}

func cycleStatus(err error) string {
	var cerr *col.CycleError
	if errors.As(err, &cerr) {
		return cerr.Kind.String()
	}
	return "error"
}
