package domain

// StreamID identifies one CTF data stream within a trace, typically one
// per CPU core.
type StreamID uint64

// RawRecord is one decoded CTF event record as produced by a Source. It is
// immutable once produced; the multiplexer owns it transiently during merge.
type RawRecord struct {
	Stream     StreamID `msgpack:"stream"`
	ClockValue uint64   `msgpack:"clock"`
	Name       string   `msgpack:"name"`
	ClassID    uint64   `msgpack:"class_id"`
	LogLevel   string   `msgpack:"log_level,omitempty"`

	CommonContext   *FieldValue `msgpack:"common_ctx,omitempty"`
	SpecificContext *FieldValue `msgpack:"specific_ctx,omitempty"`
	PacketContext   *FieldValue `msgpack:"packet_ctx,omitempty"`
	Payload         *FieldValue `msgpack:"payload,omitempty"`
}

// FieldKind discriminates the FieldValue variants.
type FieldKind uint8

const (
	FieldBool FieldKind = iota
	FieldSigned
	FieldUnsigned
	FieldFloat
	FieldString
	FieldBytes
	FieldSignedEnum
	FieldUnsignedEnum
	FieldArray
	FieldStruct
)

// FieldValue is a tagged variant over the CTF field types. A nil Name marks
// an anonymous field; the CTF spec allows those even though they are rare in
// the wild. Struct members and array elements keep their declared order.
type FieldValue struct {
	Name string    `msgpack:"name,omitempty"`
	Kind FieldKind `msgpack:"kind"`

	// Width is the integer width in bits (8/16/32/64) for the integer and
	// enumeration kinds; zero for everything else.
	Width uint8 `msgpack:"width,omitempty"`

	Bool     bool    `msgpack:"b,omitempty"`
	Signed   int64   `msgpack:"i,omitempty"`
	Unsigned uint64  `msgpack:"u,omitempty"`
	Float    float64 `msgpack:"f,omitempty"`
	Str      string  `msgpack:"s,omitempty"`
	Bytes    []byte  `msgpack:"y,omitempty"`

	// Labels holds the enumeration label mappings for the value. Values may
	// map to zero labels or to several (label ranges are allowed to overlap).
	Labels []string `msgpack:"labels,omitempty"`

	// Members holds struct members or array elements.
	Members []*FieldValue `msgpack:"members,omitempty"`
}

// Scalar reports whether the field is a single scalar value, as opposed to
// an array or structure.
func (f *FieldValue) Scalar() bool {
	return f.Kind != FieldArray && f.Kind != FieldStruct
}

// Convenience constructors, used heavily by decoders and tests.

func BoolField(name string, v bool) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldBool, Bool: v}
}

func SignedField(name string, v int64) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldSigned, Width: 64, Signed: v}
}

func UnsignedField(name string, v uint64) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldUnsigned, Width: 64, Unsigned: v}
}

func FloatField(name string, v float64) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldFloat, Float: v}
}

func StringField(name string, v string) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldString, Str: v}
}

func BytesField(name string, v []byte) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldBytes, Bytes: v}
}

func SignedEnumField(name string, v int64, labels ...string) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldSignedEnum, Width: 64, Signed: v, Labels: labels}
}

func UnsignedEnumField(name string, v uint64, labels ...string) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldUnsignedEnum, Width: 64, Unsigned: v, Labels: labels}
}

func ArrayField(name string, elems ...*FieldValue) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldArray, Members: elems}
}

func StructField(name string, members ...*FieldValue) *FieldValue {
	return &FieldValue{Name: name, Kind: FieldStruct, Members: members}
}
