package corebus

// List is an ordered sequence of Object (spec §3.1).
type List struct {
	Items []Object
}

// KV is a single key-value pair of a Map. Keys are case-sensitive UTF-8
// (spec §3.1).
type KV struct {
	Key Buffer
	Val Object
}

// Map is an insertion-order-preserving sequence of KV pairs (spec §3.1).
// Lookup is linear; well-formed maps have no duplicate keys, a producer
// responsibility this package does not enforce on construction.
type Map struct {
	Pairs []KV
}

// MapGet performs a linear case-sensitive lookup, mirroring
// aws-greengrass-lite's ggl_map_get (modules/ggl-sdk/src/map.c).
func MapGet(m Map, key Buffer) (Object, bool) {
	for _, kv := range m.Pairs {
		if BufferEq(kv.Key, key) {
			return kv.Val, true
		}
	}
	return Object{}, false
}

// Presence describes whether a schema entry must, may, or must-not be
// present in a Map (spec §4.1 "map validator helper").
type Presence int

const (
	PresenceOptional Presence = iota
	PresenceRequired
	PresenceMissing
)

// SchemaEntry describes one expected key in a MapSchema.
type SchemaEntry struct {
	Key      Buffer
	Required Presence
	Type     Type // TypeNull means "any type accepted"
	Out      *Object
}

// MapSchema is an ordered set of SchemaEntry to validate a Map against.
type MapSchema struct {
	Entries []SchemaEntry
}

// ValidateMap walks schema against m, populating each entry's Out pointer
// and returning NoEntry/Parse on violation, mirroring ggl_map_validate
// (modules/ggl-sdk/src/map.c).
func ValidateMap(m Map, schema MapSchema) error {
	for i := range schema.Entries {
		entry := &schema.Entries[i]
		val, found := MapGet(m, entry.Key)
		if !found {
			if entry.Required == PresenceRequired {
				return NewError("map.validate", NoEntry, "missing required key "+entry.Key.String())
			}
			if entry.Out != nil {
				*entry.Out = Object{}
			}
			continue
		}

		if entry.Required == PresenceMissing {
			return NewError("map.validate", Parse, "key must be absent: "+entry.Key.String())
		}

		if entry.Type != TypeNull && entry.Type != ObjType(val) {
			return NewError("map.validate", Parse, "key has invalid type: "+entry.Key.String())
		}

		if entry.Out != nil {
			*entry.Out = val
		}
	}
	return nil
}
