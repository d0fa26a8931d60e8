package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
)

func startTestMQTT(t *testing.T) (string, *Server) {
	t.Helper()
	dir := t.TempDir()
	srv, err := Listen(dir, nil)
	require.NoError(t, err)
	go srv.Serve() //nolint:errcheck
	t.Cleanup(func() { srv.Close() })
	return dir, srv
}

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	dir, _ := startTestMQTT(t)

	sub, err := cbrt.Dial(dir, Interface)
	require.NoError(t, err)
	defer sub.Close()

	got := make(chan string, 1)
	handle, err := sub.Subscribe(context.Background(), "subscribe",
		cb.Map{Pairs: []cb.KV{{Key: cb.BufferFromString("topicName"), Val: cb.NewBuffer(cb.BufferFromString("devices/+/telemetry"))}}},
		func(obj cb.Object) cbrt.SubAction {
			v, ok := cb.MapGet(cb.AsMap(obj), cb.BufferFromString("payload"))
			if ok {
				got <- cb.AsBuffer(v).String()
			}
			return cbrt.SubContinue
		},
		func() {},
	)
	require.NoError(t, err)
	defer handle.Close()
	time.Sleep(50 * time.Millisecond)

	pub, err := cbrt.Dial(dir, Interface)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pub.Call(ctx, "publish", cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("topicName"), Val: cb.NewBuffer(cb.BufferFromString("devices/thermostat-1/telemetry"))},
		{Key: cb.BufferFromString("payload"), Val: cb.NewBuffer(cb.BufferFromString("{\"tempC\":21.5}"))},
	}})
	require.NoError(t, err)

	select {
	case payload := <-got:
		require.Equal(t, `{"tempC":21.5}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish fan-out")
	}
}

func TestConnectionStatusSendsCurrentStateOnAccept(t *testing.T) {
	dir, srv := startTestMQTT(t)
	srv.SetConnected(true)

	client, err := cbrt.Dial(dir, Interface)
	require.NoError(t, err)
	defer client.Close()

	got := make(chan bool, 1)
	handle, err := client.Subscribe(context.Background(), "connection_status", cb.Map{},
		func(obj cb.Object) cbrt.SubAction {
			got <- cb.AsBool(obj)
			return cbrt.SubContinue
		},
		func() {},
	)
	require.NoError(t, err)
	defer handle.Close()

	select {
	case connected := <-got:
		require.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial connection status")
	}
}
