// Package port defines the typed, directional endpoints a Block exposes
// and that the graph validator and execution engine route records
// through (spec §3, §4.14).
package port

import "github.com/cuemby/blockengine/pkg/record"

// Direction is a port's data-flow role.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// DataType mirrors record.PortValueKind at the port-declaration level;
// it is what the validator compares for type compatibility.
type DataType string

const (
	DataTypeStream DataType = "stream"
	DataTypeBatch  DataType = "batch"
	DataTypeSingle DataType = "single"
	DataTypeNone   DataType = "none"
)

// Compatible reports whether a value of type `other` may be delivered to
// a port declared as `d` — equal, or one Stream and the other Batch
// (spec §4.14 check 5).
func (d DataType) Compatible(other DataType) bool {
	if d == other {
		return true
	}
	interchange := func(a, b DataType) bool {
		return a == DataTypeStream && b == DataTypeBatch
	}
	return interchange(d, other) || interchange(other, d)
}

// Port describes one input or output endpoint on a block.
type Port struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Dir      Direction `json:"direction"`
	Type     DataType  `json:"type"`
	Required bool      `json:"required"`
	Multiple bool      `json:"multiple"`

	// Description is optional help text for the port.
	Description string `json:"description,omitempty"`
}

// Accepts reports whether pv's kind is compatible with this port's
// declared type.
func (p Port) Accepts(pv record.PortValue) bool {
	var incoming DataType
	switch pv.Kind {
	case record.KindStream:
		incoming = DataTypeStream
	case record.KindBatch:
		incoming = DataTypeBatch
	case record.KindSingle:
		incoming = DataTypeSingle
	default:
		incoming = DataTypeNone
	}
	return p.Type.Compatible(incoming)
}
