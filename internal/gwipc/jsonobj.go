package gwipc

import (
	"encoding/json"

	cb "github.com/gglite/corebus"
)

// objectToJSON converts an Object to the JSON-representable value used on
// the GG-IPC wire (spec §4.3: "Payload (opaque bytes; by convention JSON
// for this gateway)"). Buffers are treated as UTF-8 strings since every
// operation translator in this gateway deals in textual payloads; a
// component wanting raw bytes on the wire would base64-encode into a
// string Object before calling Respond, the same convention the JSON
// side of aws-greengrass-lite's IPC uses.
func objectToJSON(o cb.Object) any {
	switch cb.ObjType(o) {
	case cb.TypeNull:
		return nil
	case cb.TypeBool:
		return cb.AsBool(o)
	case cb.TypeI64:
		return cb.AsI64(o)
	case cb.TypeF64:
		return cb.AsF64(o)
	case cb.TypeBuffer:
		return cb.AsBuffer(o).String()
	case cb.TypeList:
		list := cb.AsList(o)
		out := make([]any, len(list.Items))
		for i, item := range list.Items {
			out[i] = objectToJSON(item)
		}
		return out
	case cb.TypeMap:
		m := cb.AsMap(o)
		out := make(map[string]any, len(m.Pairs))
		for _, kv := range m.Pairs {
			out[kv.Key.String()] = objectToJSON(kv.Val)
		}
		return out
	default:
		return nil
	}
}

// jsonToObject converts a decoded JSON value (as produced by
// encoding/json's default unmarshal-into-any) to an Object.
func jsonToObject(v any) cb.Object {
	switch val := v.(type) {
	case nil:
		return cb.Null
	case bool:
		return cb.NewBool(val)
	case float64:
		return cb.NewF64(val)
	case string:
		return cb.NewBuffer(cb.BufferFromString(val))
	case []any:
		items := make([]cb.Object, len(val))
		for i, elem := range val {
			items[i] = jsonToObject(elem)
		}
		return cb.NewList(cb.List{Items: items})
	case map[string]any:
		pairs := make([]cb.KV, 0, len(val))
		for k, elem := range val {
			pairs = append(pairs, cb.KV{Key: cb.BufferFromString(k), Val: jsonToObject(elem)})
		}
		return cb.NewMap(cb.Map{Pairs: pairs})
	default:
		return cb.Null
	}
}

// decodePayload unmarshals a GG-IPC JSON payload into a generic map,
// returning an InvalidArguments gateway error on malformed JSON.
func decodePayload(op string, payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, NewError(ErrInvalidArguments, op+": malformed JSON payload: "+err.Error())
	}
	return out, nil
}

func encodePayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func paramsFromJSON(m map[string]any) cb.Map {
	obj := jsonToObject(m)
	if cb.ObjType(obj) != cb.TypeMap {
		return cb.Map{}
	}
	return cb.AsMap(obj)
}
