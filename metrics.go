package corebus

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the call-latency histogram buckets in
// nanoseconds, matching the logarithmic spacing used for I/O latency in
// the teacher corpus's metrics.go.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-process operational statistics for a core-bus server
// or client, and for the GG-IPC gateway (spec §5, §7 "External failure ...
// logged at Warn").
type Metrics struct {
	// RPC counters
	NotifyCount     atomic.Uint64
	CallCount       atomic.Uint64
	SubscribeCount  atomic.Uint64
	CallErrors      atomic.Uint64 // Remote + local Call failures
	SubscribeDrops  atomic.Uint64 // sub_respond drops due to full send buffer
	HandleReleases  atomic.Uint64
	ClientsRejected atomic.Uint64 // connections refused: table full

	// GG-IPC gateway counters
	ConnectAccepted atomic.Uint64
	ConnectRejected atomic.Uint64
	StreamsOpened   atomic.Uint64
	StreamsClosed   atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCall records a completed Call, successful or not.
func (m *Metrics) RecordCall(latencyNs uint64, success bool) {
	m.CallCount.Add(1)
	if !success {
		m.CallErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordNotify records a fire-and-forget Notify.
func (m *Metrics) RecordNotify() {
	m.NotifyCount.Add(1)
}

// RecordSubscribe records a subscription acceptance.
func (m *Metrics) RecordSubscribe() {
	m.SubscribeCount.Add(1)
}

// RecordSubscribeDrop records a sub_respond drop due to backpressure
// (spec §4.2 "Backpressure").
func (m *Metrics) RecordSubscribeDrop() {
	m.SubscribeDrops.Add(1)
}

// RecordHandleRelease records a server handle returning to its pool.
func (m *Metrics) RecordHandleRelease() {
	m.HandleReleases.Add(1)
}

// RecordClientRejected records a connection refused due to a full client
// table (spec §4.2 "Overflow: new client is closed immediately").
func (m *Metrics) RecordClientRejected() {
	m.ClientsRejected.Add(1)
}

// RecordConnect records a GG-IPC CONNECT handshake outcome.
func (m *Metrics) RecordConnect(accepted bool) {
	if accepted {
		m.ConnectAccepted.Add(1)
	} else {
		m.ConnectRejected.Add(1)
	}
}

// RecordStreamOpen/RecordStreamClose track GG-IPC stream lifecycle.
func (m *Metrics) RecordStreamOpen()  { m.StreamsOpened.Add(1) }
func (m *Metrics) RecordStreamClose() { m.StreamsClosed.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server/client as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics' atomic counters.
type MetricsSnapshot struct {
	NotifyCount     uint64
	CallCount       uint64
	SubscribeCount  uint64
	CallErrors      uint64
	SubscribeDrops  uint64
	HandleReleases  uint64
	ClientsRejected uint64

	ConnectAccepted uint64
	ConnectRejected uint64
	StreamsOpened   uint64
	StreamsClosed   uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	CallErrorRate float64
}

// Snapshot takes a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		NotifyCount:     m.NotifyCount.Load(),
		CallCount:       m.CallCount.Load(),
		SubscribeCount:  m.SubscribeCount.Load(),
		CallErrors:      m.CallErrors.Load(),
		SubscribeDrops:  m.SubscribeDrops.Load(),
		HandleReleases:  m.HandleReleases.Load(),
		ClientsRejected: m.ClientsRejected.Load(),
		ConnectAccepted: m.ConnectAccepted.Load(),
		ConnectRejected: m.ConnectRejected.Load(),
		StreamsOpened:   m.StreamsOpened.Load(),
		StreamsClosed:   m.StreamsClosed.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.CallCount > 0 {
		snap.CallErrorRate = float64(snap.CallErrors) / float64(snap.CallCount) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at percentile (0.0-1.0) via
// linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters (used by tests).
func (m *Metrics) Reset() {
	m.NotifyCount.Store(0)
	m.CallCount.Store(0)
	m.SubscribeCount.Store(0)
	m.CallErrors.Store(0)
	m.SubscribeDrops.Store(0)
	m.HandleReleases.Store(0)
	m.ClientsRejected.Store(0)
	m.ConnectAccepted.Store(0)
	m.ConnectRejected.Store(0)
	m.StreamsOpened.Store(0)
	m.StreamsClosed.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
