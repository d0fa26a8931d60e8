package wire

import (
	"testing"

	"github.com/gglite/corebus"
	"github.com/stretchr/testify/require"
)

func roundTripObject(t *testing.T, obj corebus.Object) corebus.Object {
	t.Helper()
	encoded, err := EncodeObject(nil, obj)
	require.NoError(t, err)

	arena := corebus.NewTestArena(4096)
	decoded, rest, err := DecodeObject(encoded, arena)
	require.NoError(t, err)
	require.Empty(t, rest)
	return decoded
}

func TestRoundTripScalars(t *testing.T) {
	require.Equal(t, corebus.TypeNull, corebus.ObjType(roundTripObject(t, corebus.Null)))

	b := roundTripObject(t, corebus.NewBool(true))
	require.True(t, corebus.AsBool(b))

	i := roundTripObject(t, corebus.NewI64(-42))
	require.Equal(t, int64(-42), corebus.AsI64(i))

	f := roundTripObject(t, corebus.NewF64(3.5))
	require.Equal(t, 3.5, corebus.AsF64(f))

	buf := roundTripObject(t, corebus.NewBuffer(corebus.BufferFromString("hello")))
	require.Equal(t, "hello", corebus.AsBuffer(buf).String())
}

func TestRoundTripNestedContainers(t *testing.T) {
	inner := corebus.NewList(corebus.List{Items: []corebus.Object{
		corebus.NewI64(1), corebus.NewI64(2),
	}})
	m := corebus.NewMap(corebus.Map{Pairs: []corebus.KV{
		{Key: corebus.BufferFromString("nums"), Val: inner},
		{Key: corebus.BufferFromString("name"), Val: corebus.NewBuffer(corebus.BufferFromString("demo"))},
	}})

	decoded := roundTripObject(t, m)
	require.Equal(t, corebus.TypeMap, corebus.ObjType(decoded))
	dm := corebus.AsMap(decoded)

	nums, ok := corebus.MapGet(dm, corebus.BufferFromString("nums"))
	require.True(t, ok)
	numsList := corebus.AsList(nums)
	require.Len(t, numsList.Items, 2)
	require.Equal(t, int64(1), corebus.AsI64(numsList.Items[0]))

	name, ok := corebus.MapGet(dm, corebus.BufferFromString("name"))
	require.True(t, ok)
	require.Equal(t, "demo", corebus.AsBuffer(name).String())
}

func TestDecodeObjectRejectsExcessiveDepth(t *testing.T) {
	var obj corebus.Object = corebus.NewI64(1)
	for i := 0; i < corebus.MaxObjectDepth+5; i++ {
		obj = corebus.NewList(corebus.List{Items: []corebus.Object{obj}})
	}

	encoded, err := EncodeObject(nil, obj)
	require.NoError(t, err)

	arena := corebus.NewTestArena(65536)
	_, _, err = DecodeObject(encoded, arena)
	require.Error(t, err)
	require.True(t, corebus.IsCode(err, corebus.Range))
}

func TestDecodeObjectTruncated(t *testing.T) {
	_, _, err := DecodeObject([]byte{tagI64, 1, 2}, nil)
	require.Error(t, err)
	require.True(t, corebus.IsCode(err, corebus.Parse))
}

func TestFrameRoundTrip(t *testing.T) {
	params := corebus.Map{Pairs: []corebus.KV{
		{Key: corebus.BufferFromString("topic"), Val: corebus.NewBuffer(corebus.BufferFromString("ping/hello"))},
	}}
	encoded, err := EncodeFrame(KindCall, "publish", params)
	require.NoError(t, err)

	arena := corebus.NewTestArena(4096)
	kind, method, decodedParams, rest, err := DecodeFrame(encoded, arena)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, KindCall, kind)
	require.Equal(t, "publish", method)

	topic, ok := corebus.MapGet(decodedParams, corebus.BufferFromString("topic"))
	require.True(t, ok)
	require.Equal(t, "ping/hello", corebus.AsBuffer(topic).String())
}

func TestResponseRoundTripOK(t *testing.T) {
	encoded, err := EncodeResponse(RespOK, corebus.NewI64(7), corebus.Ok)
	require.NoError(t, err)

	arena := corebus.NewTestArena(4096)
	rt, obj, _, err := DecodeResponse(encoded, arena)
	require.NoError(t, err)
	require.Equal(t, RespOK, rt)
	require.Equal(t, int64(7), corebus.AsI64(obj))
}

func TestResponseRoundTripErr(t *testing.T) {
	encoded, err := EncodeResponse(RespErr, corebus.Object{}, corebus.NoEntry)
	require.NoError(t, err)

	rt, _, code, err := DecodeResponse(encoded, nil)
	require.NoError(t, err)
	require.Equal(t, RespErr, rt)
	require.Equal(t, corebus.NoEntry, code)
}

func TestResponseAcceptAndClose(t *testing.T) {
	for _, rt := range []ResponseType{RespAccept, RespClose} {
		encoded, err := EncodeResponse(rt, corebus.Object{}, corebus.Ok)
		require.NoError(t, err)
		decodedType, _, _, err := DecodeResponse(encoded, nil)
		require.NoError(t, err)
		require.Equal(t, rt, decodedType)
	}
}
