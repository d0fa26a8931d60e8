package gwipc

import (
	"context"

	cb "github.com/gglite/corebus"
	cbrt "github.com/gglite/corebus/internal/corebus"
)

// operationFunc is one GG-IPC operation translator (spec §4.3 "Request
// dispatch"): validate payload, issue one or more core-bus calls, write
// exactly one APPLICATION_MESSAGE/APPLICATION_ERROR response, except for
// streaming operations which may write many.
type operationFunc func(g *Gateway, conn *gwConn, streamID int32, payload []byte)

// operationTable is the static per-operation dispatch (SPEC_FULL.md
// §3.6: "operation dispatch table (translators for PublishToIoTCore,
// SubscribeToIoTCore, GetConfiguration, UpdateConfiguration,
// GetSystemConfig)").
var operationTable = map[string]operationFunc{
	"aws.greengrass#PublishToIoTCore":    publishToIoTCore,
	"aws.greengrass#SubscribeToIoTCore":  subscribeToIoTCore,
	"aws.greengrass#GetConfiguration":    getConfiguration,
	"aws.greengrass#UpdateConfiguration": updateConfiguration,
	"aws.greengrass#GetSystemConfig":     getSystemConfig,
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringListField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringListToObject(ss []string) cb.Object {
	items := make([]cb.Object, len(ss))
	for i, s := range ss {
		items[i] = cb.NewBuffer(cb.BufferFromString(s))
	}
	return cb.NewList(cb.List{Items: items})
}

func callOp(g *Gateway, iface, method string, params cb.Map) (cb.Object, *Error) {
	client, err := g.client(iface)
	if err != nil {
		return cb.Null, translateCoreBusError(method, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cb.CallTimeout)
	defer cancel()
	result, err := client.Call(ctx, method, params)
	if err != nil {
		return cb.Null, translateCoreBusError(method, err)
	}
	return result, nil
}

func publishToIoTCore(g *Gateway, conn *gwConn, streamID int32, payload []byte) {
	const op = "PublishToIoTCore"
	req, err := decodePayload(op, payload)
	if err != nil {
		conn.writeApplicationError(streamID, err.(*Error))
		return
	}
	topic, ok := stringField(req, "topicName")
	if !ok || topic == "" {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, op+": topicName is required"))
		return
	}
	payloadStr, _ := stringField(req, "payload")
	qos := int64(0)
	if v, ok := req["qos"].(float64); ok {
		qos = int64(v)
	}

	params := cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("topicName"), Val: cb.NewBuffer(cb.BufferFromString(topic))},
		{Key: cb.BufferFromString("payload"), Val: cb.NewBuffer(cb.BufferFromString(payloadStr))},
		{Key: cb.BufferFromString("qos"), Val: cb.NewI64(qos)},
	}}
	if _, gwErr := callOp(g, "aws_iot_mqtt", "publish", params); gwErr != nil {
		conn.writeApplicationError(streamID, gwErr)
		return
	}
	conn.writeApplicationMessage(streamID, encodePayload(map[string]any{}), false)
}

func subscribeToIoTCore(g *Gateway, conn *gwConn, streamID int32, payload []byte) {
	const op = "SubscribeToIoTCore"
	req, err := decodePayload(op, payload)
	if err != nil {
		conn.writeApplicationError(streamID, err.(*Error))
		return
	}
	topic, ok := stringField(req, "topicName")
	if !ok || topic == "" {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, op+": topicName is required"))
		return
	}

	// Subscribe gets its own dedicated connection, never the shared
	// g.client cache: its background read loop will own this connection
	// for as long as the subscription lives (see Gateway.dialClient).
	client, cerr := g.dialClient("aws_iot_mqtt")
	if cerr != nil {
		conn.writeApplicationError(streamID, translateCoreBusError(op, cerr))
		return
	}

	params := cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("topicName"), Val: cb.NewBuffer(cb.BufferFromString(topic))},
	}}

	onResponse := func(obj cb.Object) cbrt.SubAction {
		conn.writeApplicationMessage(streamID, encodePayload(objectToJSON(obj)), false)
		return cbrt.SubContinue
	}
	onClose := func() {
		conn.streamsMu.Lock()
		delete(conn.streams, streamID)
		conn.streamsMu.Unlock()
		client.Close() //nolint:errcheck
		conn.writeApplicationMessage(streamID, encodePayload(map[string]any{}), true)
	}

	handle, serr := client.Subscribe(context.Background(), "subscribe", params, onResponse, onClose)
	if serr != nil {
		client.Close() //nolint:errcheck
		conn.writeApplicationError(streamID, translateCoreBusError(op, serr))
		return
	}

	conn.streamsMu.Lock()
	conn.streams[streamID] = &streamState{sub: handle, client: client}
	conn.streamsMu.Unlock()
}

func getConfiguration(g *Gateway, conn *gwConn, streamID int32, payload []byte) {
	const op = "GetConfiguration"
	req, err := decodePayload(op, payload)
	if err != nil {
		conn.writeApplicationError(streamID, err.(*Error))
		return
	}
	componentName, ok := stringField(req, "componentName")
	if !ok || componentName == "" {
		componentName = conn.componentName
	}
	keyPath := stringListField(req, "keyPath")

	params := cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("componentName"), Val: cb.NewBuffer(cb.BufferFromString(componentName))},
		{Key: cb.BufferFromString("keyPath"), Val: stringListToObject(keyPath)},
	}}
	result, gwErr := callOp(g, "config", "read", params)
	if gwErr != nil {
		conn.writeApplicationError(streamID, gwErr)
		return
	}
	conn.writeApplicationMessage(streamID, encodePayload(map[string]any{
		"componentName": componentName,
		"value":         objectToJSON(result),
	}), false)
}

func updateConfiguration(g *Gateway, conn *gwConn, streamID int32, payload []byte) {
	const op = "UpdateConfiguration"
	req, err := decodePayload(op, payload)
	if err != nil {
		conn.writeApplicationError(streamID, err.(*Error))
		return
	}
	keyPath := stringListField(req, "keyPath")
	if len(keyPath) == 0 {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, op+": keyPath is required"))
		return
	}
	timestamp := int64(0)
	if v, ok := req["timestamp"].(float64); ok {
		timestamp = int64(v)
	}
	value := jsonToObject(req["valueToMerge"])

	params := cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("componentName"), Val: cb.NewBuffer(cb.BufferFromString(conn.componentName))},
		{Key: cb.BufferFromString("keyPath"), Val: stringListToObject(keyPath)},
		{Key: cb.BufferFromString("timestamp"), Val: cb.NewI64(timestamp)},
		{Key: cb.BufferFromString("value"), Val: value},
	}}
	if _, gwErr := callOp(g, "config", "write", params); gwErr != nil {
		conn.writeApplicationError(streamID, gwErr)
		return
	}
	conn.writeApplicationMessage(streamID, encodePayload(map[string]any{}), false)
}

func getSystemConfig(g *Gateway, conn *gwConn, streamID int32, payload []byte) {
	const op = "GetSystemConfig"
	req, err := decodePayload(op, payload)
	if err != nil {
		conn.writeApplicationError(streamID, err.(*Error))
		return
	}
	keyName, ok := stringField(req, "keyName")
	if !ok || keyName == "" {
		conn.writeApplicationError(streamID, NewError(ErrInvalidArguments, op+": keyName is required"))
		return
	}
	params := cb.Map{Pairs: []cb.KV{
		{Key: cb.BufferFromString("keyName"), Val: cb.NewBuffer(cb.BufferFromString(keyName))},
	}}
	result, gwErr := callOp(g, "config", "get_system_config", params)
	if gwErr != nil {
		conn.writeApplicationError(streamID, gwErr)
		return
	}
	conn.writeApplicationMessage(streamID, encodePayload(map[string]any{
		"value": objectToJSON(result),
	}), false)
}
