package domain

// AttrKind discriminates the AttrVal variants of the target ingest model.
type AttrKind uint8

const (
	AttrBool AttrKind = iota
	AttrInt
	AttrUint
	AttrFloat
	AttrString
	AttrBytes
	// AttrTimestamp is nanoseconds since the session epoch, carried in Uint.
	AttrTimestamp
	AttrArray
)

// AttrVal is a typed attribute value on a timeline or timed event. Byte
// sequences are preserved verbatim; integers keep their signedness at 64 bit.
type AttrVal struct {
	Kind AttrKind `msgpack:"kind"`

	Bool  bool      `msgpack:"b,omitempty"`
	Int   int64     `msgpack:"i,omitempty"`
	Uint  uint64    `msgpack:"u,omitempty"`
	Float float64   `msgpack:"f,omitempty"`
	Str   string    `msgpack:"s,omitempty"`
	Bytes []byte    `msgpack:"y,omitempty"`
	Array []AttrVal `msgpack:"a,omitempty"`
}

// Attr is one named attribute. Attribute sets are ordered slices so mapping
// output stays deterministic.
type Attr struct {
	Key string  `msgpack:"k"`
	Val AttrVal `msgpack:"v"`
}

func Bool(v bool) AttrVal     { return AttrVal{Kind: AttrBool, Bool: v} }
func Int(v int64) AttrVal     { return AttrVal{Kind: AttrInt, Int: v} }
func Uint(v uint64) AttrVal   { return AttrVal{Kind: AttrUint, Uint: v} }
func Float(v float64) AttrVal { return AttrVal{Kind: AttrFloat, Float: v} }
func String(v string) AttrVal { return AttrVal{Kind: AttrString, Str: v} }
func Bytes(v []byte) AttrVal  { return AttrVal{Kind: AttrBytes, Bytes: v} }

func Timestamp(ns uint64) AttrVal { return AttrVal{Kind: AttrTimestamp, Uint: ns} }

func Array(elems ...AttrVal) AttrVal { return AttrVal{Kind: AttrArray, Array: elems} }

// Equal reports deep equality of two attribute values.
func (v AttrVal) Equal(o AttrVal) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case AttrBool:
		return v.Bool == o.Bool
	case AttrInt:
		return v.Int == o.Int
	case AttrUint, AttrTimestamp:
		return v.Uint == o.Uint
	case AttrFloat:
		return v.Float == o.Float
	case AttrString:
		return v.Str == o.Str
	case AttrBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	case AttrArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// TimedEvent is one normalized event in the target ingest model. Immutable;
// produced by the mapper, consumed by the ingest session.
type TimedEvent struct {
	Timeline  TimelineID `msgpack:"timeline"`
	Timestamp uint64     `msgpack:"ts"`
	Attrs     []Attr     `msgpack:"attrs"`
}
