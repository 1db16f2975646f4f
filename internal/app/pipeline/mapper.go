package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ghalamif/TraceFlow/internal/app/registry"
	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// Well-known tracer context field names mapped onto stable attribute keys so
// downstream consumers never depend on the tracer's spelling.
var processContextKeys = map[string]string{
	"pid":      domain.EventKeyPID,
	"vpid":     domain.EventKeyPID,
	"tid":      domain.EventKeyTID,
	"vtid":     domain.EventKeyTID,
	"procname": domain.EventKeyProcessName,
}

// Mapper translates ordered raw records into timed events: it resolves the
// owning timeline, converts the clock value (done upstream by the
// multiplexer), and flattens field payloads into typed attributes. Mapping
// the same record twice yields the same event.
type Mapper struct {
	reg *registry.Registry
	obs ports.Observability

	rejected uint64
}

func NewMapper(reg *registry.Registry, obs ports.Observability) *Mapper {
	return &Mapper{reg: reg, obs: obs}
}

// Rejected reports how many records failed field conversion.
func (m *Mapper) Rejected() uint64 { return m.rejected }

// Map converts one merged record. created is true when this record caused
// its timeline to be registered. A conversion failure rejects the record
// (counted, reported) and returns a nil event; processing continues.
func (m *Mapper) Map(merged Merged) (ev *domain.TimedEvent, tl *domain.Timeline, created bool, err error) {
	rec := merged.Record
	clock, _ := merged.Source.ClockDomain()
	tl, created = m.reg.Resolve(merged.Source.Identity(), clock, rec.ClockValue)

	attrs, err := m.buildAttrs(rec, merged.Nanos)
	if err != nil {
		m.rejected++
		m.obs.RecordReject(ports.RejectMapping, rec.Stream, err)
		return nil, tl, created, err
	}

	return &domain.TimedEvent{
		Timeline:  tl.ID,
		Timestamp: merged.Nanos,
		Attrs:     attrs,
	}, tl, created, nil
}

func (m *Mapper) buildAttrs(rec *domain.RawRecord, nanos uint64) ([]domain.Attr, error) {
	attrs := make([]domain.Attr, 0, 8)
	if rec.Name != "" {
		attrs = append(attrs, domain.Attr{Key: domain.EventKeyName, Val: domain.String(rec.Name)})
	}
	attrs = append(attrs,
		domain.Attr{Key: domain.EventKeyTimestamp, Val: domain.Timestamp(nanos)},
		domain.Attr{Key: domain.EventKeyClockSnapshot, Val: domain.Uint(rec.ClockValue)},
		domain.Attr{Key: domain.EventKeyStreamID, Val: domain.Uint(uint64(rec.Stream))},
		domain.Attr{Key: domain.EventKeyClassID, Val: domain.Uint(rec.ClassID)},
	)
	if rec.LogLevel != "" {
		attrs = append(attrs, domain.Attr{Key: domain.EventKeyLogLevel, Val: domain.String(strings.ToLower(rec.LogLevel))})
	}

	contexts := []struct {
		prefix string
		field  *domain.FieldValue
	}{
		{domain.EventKeyCommonContextPrefix, rec.CommonContext},
		{domain.EventKeySpecificContextPrefix, rec.SpecificContext},
		{domain.EventKeyPacketContextPrefix, rec.PacketContext},
	}
	for _, c := range contexts {
		if c.field == nil {
			continue
		}
		flat, err := flatten(c.field)
		if err != nil {
			return nil, err
		}
		for _, fa := range flat {
			attrs = append(attrs, domain.Attr{Key: c.prefix + fa.Key, Val: fa.Val})
			if wellKnown, ok := processContextKeys[fa.Key]; ok {
				attrs = setWellKnown(attrs, wellKnown, fa.Val)
			}
		}
	}

	if rec.Payload != nil {
		flat, err := flatten(rec.Payload)
		if err != nil {
			return nil, err
		}
		for _, fa := range flat {
			attrs = append(attrs, domain.Attr{Key: domain.EventKeyFieldPrefix + fa.Key, Val: fa.Val})
		}
	}

	return attrs, nil
}

// setWellKnown adds a derived well-known attribute once; the first context
// occurrence wins so common context beats packet context.
func setWellKnown(attrs []domain.Attr, key string, val domain.AttrVal) []domain.Attr {
	for i := range attrs {
		if attrs[i].Key == key {
			return attrs
		}
	}
	return append(attrs, domain.Attr{Key: key, Val: val})
}

// flatten destructures a field tree into dotted attribute keys. The root
// structure itself contributes no key component. Unnamed fields are named
// anonymous_<n>, counted per nesting depth. Enumerations with exactly one
// label mapping emit an extra <key>.label attribute. Arrays become a single
// ordered attribute value, never one attribute per element.
func flatten(root *domain.FieldValue) ([]domain.Attr, error) {
	f := &flattener{anonIdx: []int{0}}
	if err := f.walk(root, true); err != nil {
		return nil, err
	}
	return f.out, nil
}

type flattener struct {
	stack   []string
	anonIdx []int
	out     []domain.Attr
}

func (f *flattener) walk(field *domain.FieldValue, isRoot bool) error {
	if field.Kind == domain.FieldStruct {
		if !isRoot {
			f.push(field.Name)
			defer f.pop()
		}
		for _, member := range field.Members {
			if err := f.walk(member, false); err != nil {
				return err
			}
		}
		return nil
	}

	key := f.key(field.Name)
	val, err := fieldToAttrVal(field)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	f.out = append(f.out, domain.Attr{Key: key, Val: val})

	if (field.Kind == domain.FieldSignedEnum || field.Kind == domain.FieldUnsignedEnum) && len(field.Labels) == 1 {
		f.out = append(f.out, domain.Attr{Key: key + ".label", Val: domain.String(field.Labels[0])})
	}
	return nil
}

func (f *flattener) key(name string) string {
	leaf := f.resolveName(name)
	if len(f.stack) == 0 {
		return leaf
	}
	return strings.Join(f.stack, ".") + "." + leaf
}

func (f *flattener) resolveName(name string) string {
	if name != "" {
		return name
	}
	depth := len(f.anonIdx) - 1
	n := f.anonIdx[depth]
	f.anonIdx[depth]++
	return "anonymous_" + strconv.Itoa(n)
}

func (f *flattener) push(name string) {
	f.stack = append(f.stack, f.resolveName(name))
	f.anonIdx = append(f.anonIdx, 0)
}

func (f *flattener) pop() {
	f.stack = f.stack[:len(f.stack)-1]
	f.anonIdx = f.anonIdx[:len(f.anonIdx)-1]
}

// fieldToAttrVal converts a non-struct field. Integer signedness and byte
// sequences are preserved exactly; nothing is implicitly text-decoded or
// truncated.
func fieldToAttrVal(field *domain.FieldValue) (domain.AttrVal, error) {
	switch field.Kind {
	case domain.FieldBool:
		return domain.Bool(field.Bool), nil
	case domain.FieldSigned, domain.FieldSignedEnum:
		return domain.Int(field.Signed), nil
	case domain.FieldUnsigned, domain.FieldUnsignedEnum:
		return domain.Uint(field.Unsigned), nil
	case domain.FieldFloat:
		return domain.Float(field.Float), nil
	case domain.FieldString:
		return domain.String(field.Str), nil
	case domain.FieldBytes:
		return domain.Bytes(field.Bytes), nil
	case domain.FieldArray:
		elems := make([]domain.AttrVal, 0, len(field.Members))
		for i, member := range field.Members {
			if member.Kind == domain.FieldStruct {
				return domain.AttrVal{}, fmt.Errorf("array element %d: structures inside arrays are unsupported", i)
			}
			v, err := fieldToAttrVal(member)
			if err != nil {
				return domain.AttrVal{}, fmt.Errorf("array element %d: %w", i, err)
			}
			elems = append(elems, v)
		}
		return domain.Array(elems...), nil
	default:
		return domain.AttrVal{}, fmt.Errorf("unsupported field kind %d", field.Kind)
	}
}
