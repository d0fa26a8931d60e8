package corebus

import (
	"testing"
	"time"
)

func TestMetricsCallCounters(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.CallCount != 0 {
		t.Errorf("Expected 0 initial calls, got %d", snap.CallCount)
	}

	m.RecordCall(1_000_000, true)  // 1ms, success
	m.RecordCall(2_000_000, true)  // 2ms, success
	m.RecordCall(500_000, false)   // 0.5ms, failure
	m.RecordNotify()
	m.RecordSubscribe()

	snap = m.Snapshot()
	if snap.CallCount != 3 {
		t.Errorf("Expected 3 calls, got %d", snap.CallCount)
	}
	if snap.CallErrors != 1 {
		t.Errorf("Expected 1 call error, got %d", snap.CallErrors)
	}
	if snap.NotifyCount != 1 {
		t.Errorf("Expected 1 notify, got %d", snap.NotifyCount)
	}
	if snap.SubscribeCount != 1 {
		t.Errorf("Expected 1 subscribe, got %d", snap.SubscribeCount)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.CallErrorRate < expectedErrorRate-0.1 || snap.CallErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected call error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.CallErrorRate)
	}
}

func TestMetricsSubscribeDropsAndRejects(t *testing.T) {
	m := NewMetrics()

	m.RecordSubscribeDrop()
	m.RecordSubscribeDrop()
	m.RecordClientRejected()
	m.RecordHandleRelease()

	snap := m.Snapshot()
	if snap.SubscribeDrops != 2 {
		t.Errorf("Expected 2 subscribe drops, got %d", snap.SubscribeDrops)
	}
	if snap.ClientsRejected != 1 {
		t.Errorf("Expected 1 client rejected, got %d", snap.ClientsRejected)
	}
	if snap.HandleReleases != 1 {
		t.Errorf("Expected 1 handle release, got %d", snap.HandleReleases)
	}
}

func TestMetricsGatewayCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordConnect(true)
	m.RecordConnect(true)
	m.RecordConnect(false)
	m.RecordStreamOpen()
	m.RecordStreamOpen()
	m.RecordStreamClose()

	snap := m.Snapshot()
	if snap.ConnectAccepted != 2 {
		t.Errorf("Expected 2 accepted connects, got %d", snap.ConnectAccepted)
	}
	if snap.ConnectRejected != 1 {
		t.Errorf("Expected 1 rejected connect, got %d", snap.ConnectRejected)
	}
	if snap.StreamsOpened != 2 {
		t.Errorf("Expected 2 streams opened, got %d", snap.StreamsOpened)
	}
	if snap.StreamsClosed != 1 {
		t.Errorf("Expected 1 stream closed, got %d", snap.StreamsClosed)
	}
}

func TestMetricsAvgLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordCall(1_000_000, true) // 1ms
	m.RecordCall(2_000_000, true) // 2ms

	snap := m.Snapshot()
	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordCall(1_000_000, true)
	m.RecordNotify()
	m.RecordSubscribe()

	snap := m.Snapshot()
	if snap.CallCount == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.CallCount != 0 {
		t.Errorf("Expected 0 calls after reset, got %d", snap.CallCount)
	}
	if snap.NotifyCount != 0 {
		t.Errorf("Expected 0 notifies after reset, got %d", snap.NotifyCount)
	}
	if snap.AvgLatencyNs != 0 {
		t.Errorf("Expected 0 avg latency after reset, got %d", snap.AvgLatencyNs)
	}
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordCall(500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordCall(5_000_000, true) // 5ms
	}
	m.RecordCall(50_000_000, true) // 50ms, the P99 tail

	snap := m.Snapshot()
	if snap.CallCount != 100 {
		t.Errorf("Expected 100 total calls, got %d", snap.CallCount)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
