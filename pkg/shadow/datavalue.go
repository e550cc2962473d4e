package shadow

import (
	"bytes"
	"io"

	"github.com/matterkit/shadow/pkg/tlv"
)

// Kind classifies the payload carried by a DataValue, mirroring the TLV
// element-type groups in pkg/tlv rather than the full 17-way element tag set.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindStruct
	KindArray
)

// Field is one named (context-tagged) member of a KindStruct DataValue.
type Field struct {
	Tag   uint8
	Value DataValue
}

// DataValue is a self-describing tagged value mirroring one TLV element: a
// type tag plus a payload, losslessly round-trippable through pkg/tlv's
// Writer and Reader. Structures carry ordered, context-tagged fields; arrays
// carry ordered, anonymous elements.
type DataValue struct {
	Kind Kind

	Bool    bool
	Int     int64
	Uint    uint64
	Float32 float32
	Float64 float64
	String  string
	Bytes   []byte

	Fields   []Field     // KindStruct
	Elements []DataValue // KindArray
}

// Null returns the null DataValue.
func Null() DataValue { return DataValue{Kind: KindNull} }

// NewBool wraps a boolean value.
func NewBool(v bool) DataValue { return DataValue{Kind: KindBool, Bool: v} }

// NewInt wraps a signed integer value.
func NewInt(v int64) DataValue { return DataValue{Kind: KindInt, Int: v} }

// NewUint wraps an unsigned integer value.
func NewUint(v uint64) DataValue { return DataValue{Kind: KindUint, Uint: v} }

// NewFloat32 wraps a 32-bit float value.
func NewFloat32(v float32) DataValue { return DataValue{Kind: KindFloat32, Float32: v} }

// NewFloat64 wraps a 64-bit float value.
func NewFloat64(v float64) DataValue { return DataValue{Kind: KindFloat64, Float64: v} }

// NewString wraps a UTF-8 string value.
func NewString(v string) DataValue { return DataValue{Kind: KindString, String: v} }

// NewBytes wraps an octet-string value.
func NewBytes(v []byte) DataValue { return DataValue{Kind: KindBytes, Bytes: v} }

// NewStruct wraps an ordered set of context-tagged fields.
func NewStruct(fields ...Field) DataValue { return DataValue{Kind: KindStruct, Fields: fields} }

// NewArray wraps an ordered list of anonymous elements.
func NewArray(elements ...DataValue) DataValue { return DataValue{Kind: KindArray, Elements: elements} }

// Equal reports canonical structural equality: same type tag and same
// payload, with null treated equal to null regardless of any other field.
func (v DataValue) Equal(o DataValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindUint:
		return v.Uint == o.Uint
	case KindFloat32:
		return v.Float32 == o.Float32
	case KindFloat64:
		return v.Float64 == o.Float64
	case KindString:
		return v.String == o.String
	case KindBytes:
		return bytesEqual(v.Bytes, o.Bytes)
	case KindStruct:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for i := range v.Fields {
			if v.Fields[i].Tag != o.Fields[i].Tag || !v.Fields[i].Value.Equal(o.Fields[i].Value) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.Elements) != len(o.Elements) {
			return false
		}
		for i := range v.Elements {
			if !v.Elements[i].Equal(o.Elements[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Encode writes the value to w under the given tag.
func (v DataValue) Encode(w *tlv.Writer, tag tlv.Tag) error {
	switch v.Kind {
	case KindNull:
		return w.PutNull(tag)
	case KindBool:
		return w.PutBool(tag, v.Bool)
	case KindInt:
		return w.PutInt(tag, v.Int)
	case KindUint:
		return w.PutUint(tag, v.Uint)
	case KindFloat32:
		return w.PutFloat32(tag, v.Float32)
	case KindFloat64:
		return w.PutFloat64(tag, v.Float64)
	case KindString:
		return w.PutString(tag, v.String)
	case KindBytes:
		return w.PutBytes(tag, v.Bytes)
	case KindStruct:
		if err := w.StartStructure(tag); err != nil {
			return err
		}
		for _, f := range v.Fields {
			if err := f.Value.Encode(w, tlv.ContextTag(f.Tag)); err != nil {
				return err
			}
		}
		return w.EndContainer()
	case KindArray:
		if err := w.StartArray(tag); err != nil {
			return err
		}
		for _, e := range v.Elements {
			if err := e.Encode(w, tlv.Anonymous()); err != nil {
				return err
			}
		}
		return w.EndContainer()
	}
	return tlv.ErrInvalidElementType
}

// EncodeAnonymous writes the value under an anonymous tag, the shape used
// for top-level attribute/command payloads.
func (v DataValue) EncodeAnonymous(w *tlv.Writer) error {
	return v.Encode(w, tlv.Anonymous())
}

// DecodeValue reads the current element (the reader must already be
// positioned on it via a prior Next) into a DataValue.
func DecodeValue(r *tlv.Reader) (DataValue, error) {
	switch {
	case r.Type() == tlv.ElementTypeNull:
		if err := r.Null(); err != nil {
			return DataValue{}, err
		}
		return Null(), nil
	case r.Type().IsBool():
		b, err := r.Bool()
		if err != nil {
			return DataValue{}, err
		}
		return NewBool(b), nil
	case r.Type().IsSignedInt():
		i, err := r.Int()
		if err != nil {
			return DataValue{}, err
		}
		return NewInt(i), nil
	case r.Type().IsUnsignedInt():
		u, err := r.Uint()
		if err != nil {
			return DataValue{}, err
		}
		return NewUint(u), nil
	case r.Type() == tlv.ElementTypeFloat32:
		f, err := r.Float32()
		if err != nil {
			return DataValue{}, err
		}
		return NewFloat32(f), nil
	case r.Type() == tlv.ElementTypeFloat64:
		f, err := r.Float64()
		if err != nil {
			return DataValue{}, err
		}
		return NewFloat64(f), nil
	case r.Type().IsUTF8String():
		s, err := r.String()
		if err != nil {
			return DataValue{}, err
		}
		return NewString(s), nil
	case r.Type().IsBytes():
		b, err := r.Bytes()
		if err != nil {
			return DataValue{}, err
		}
		return NewBytes(b), nil
	case r.Type() == tlv.ElementTypeStruct:
		return decodeStruct(r)
	case r.Type() == tlv.ElementTypeArray || r.Type() == tlv.ElementTypeList:
		return decodeArray(r)
	}
	return DataValue{}, tlv.ErrInvalidElementType
}

func decodeStruct(r *tlv.Reader) (DataValue, error) {
	if err := r.EnterContainer(); err != nil {
		return DataValue{}, err
	}
	var fields []Field
	for {
		if err := r.Next(); err != nil {
			if err == io.EOF || r.IsEndOfContainer() {
				break
			}
			return DataValue{}, err
		}
		if r.IsEndOfContainer() {
			break
		}
		var tagNum uint8
		if r.Tag().IsContext() {
			tagNum = uint8(r.Tag().TagNumber())
		}
		val, err := DecodeValue(r)
		if err != nil {
			return DataValue{}, err
		}
		fields = append(fields, Field{Tag: tagNum, Value: val})
	}
	if err := r.ExitContainer(); err != nil {
		return DataValue{}, err
	}
	return DataValue{Kind: KindStruct, Fields: fields}, nil
}

func decodeArray(r *tlv.Reader) (DataValue, error) {
	if err := r.EnterContainer(); err != nil {
		return DataValue{}, err
	}
	var elems []DataValue
	for {
		if err := r.Next(); err != nil {
			if err == io.EOF || r.IsEndOfContainer() {
				break
			}
			return DataValue{}, err
		}
		if r.IsEndOfContainer() {
			break
		}
		val, err := DecodeValue(r)
		if err != nil {
			return DataValue{}, err
		}
		elems = append(elems, val)
	}
	if err := r.ExitContainer(); err != nil {
		return DataValue{}, err
	}
	return DataValue{Kind: KindArray, Elements: elems}, nil
}

// EncodeDataValue encodes v as a standalone anonymous TLV element, the form
// used for AttributeDataIB.Data / CommandDataIB.Fields payloads.
func EncodeDataValue(v DataValue) ([]byte, error) {
	return encodeValueToBytes(v)
}

// DecodeDataValue decodes a standalone anonymous TLV element produced by
// EncodeDataValue.
func DecodeDataValue(data []byte) (DataValue, error) {
	return decodeValueFromBytes(data)
}

func encodeValueToBytes(v DataValue) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := v.EncodeAnonymous(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValueFromBytes(data []byte) (DataValue, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := r.Next(); err != nil {
		return DataValue{}, err
	}
	return DecodeValue(r)
}
