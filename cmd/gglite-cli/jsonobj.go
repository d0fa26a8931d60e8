package main

import (
	"encoding/json"
	"fmt"

	cb "github.com/gglite/corebus"
)

// objectToJSON and jsonToObject bridge the CLI's JSON argument/output
// surface to cb.Object, the same shape as internal/gwipc's GG-IPC
// bridging but kept local to the CLI: a core-bus client talks Object
// directly, it has no event-stream framing to translate through.
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
		items := cb.AsList(o).Items
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = objectToJSON(item)
		}
		return out
	case cb.TypeMap:
		pairs := cb.AsMap(o).Pairs
		out := make(map[string]any, len(pairs))
		for _, kv := range pairs {
			out[kv.Key.String()] = objectToJSON(kv.Val)
		}
		return out
	default:
		return nil
	}
}

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
		for i, item := range val {
			items[i] = jsonToObject(item)
		}
		return cb.NewList(cb.List{Items: items})
	case map[string]any:
		pairs := make([]cb.KV, 0, len(val))
		for k, item := range val {
			pairs = append(pairs, cb.KV{Key: cb.BufferFromString(k), Val: jsonToObject(item)})
		}
		return cb.NewMap(cb.Map{Pairs: pairs})
	default:
		return cb.Null
	}
}

func parseParamsJSON(raw string) (cb.Map, error) {
	if raw == "" {
		return cb.Map{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return cb.Map{}, fmt.Errorf("invalid --params JSON: %w", err)
	}
	obj := jsonToObject(decoded)
	return cb.AsMap(obj), nil
}
