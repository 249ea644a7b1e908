package record

// PortValueKind tags the shape of data riding a PortValue.
type PortValueKind string

const (
	KindStream PortValueKind = "stream"
	KindBatch  PortValueKind = "batch"
	KindSingle PortValueKind = "single"
	KindNone   PortValueKind = "none"
)

// PortValue is the tagged variant carrying records through ports.
// Stream and Batch are semantically interchangeable collections; the
// tag preserves producer intent only (spec §3).
type PortValue struct {
	Kind    PortValueKind
	Records []Record
}

// NewStream wraps records as a Stream-tagged PortValue.
func NewStream(records []Record) PortValue {
	return PortValue{Kind: KindStream, Records: records}
}

// NewBatch wraps records as a Batch-tagged PortValue.
func NewBatch(records []Record) PortValue {
	return PortValue{Kind: KindBatch, Records: records}
}

// NewSingle wraps a single record as a Single-tagged PortValue.
func NewSingle(r Record) PortValue {
	return PortValue{Kind: KindSingle, Records: []Record{r}}
}

// None is the empty PortValue.
func None() PortValue {
	return PortValue{Kind: KindNone}
}

// IsCollection reports whether the value carries a Stream or Batch —
// the two kinds the validator treats as mutually type-compatible.
func (p PortValue) IsCollection() bool {
	return p.Kind == KindStream || p.Kind == KindBatch
}

// Len returns the number of records carried, 0 for None.
func (p PortValue) Len() int {
	return len(p.Records)
}

// Clone value-copies every record carried by p.
func (p PortValue) Clone() PortValue {
	out := PortValue{Kind: p.Kind}
	if p.Records != nil {
		out.Records = make([]Record, len(p.Records))
		for i, r := range p.Records {
			out.Records[i] = r.Clone()
		}
	}
	return out
}
