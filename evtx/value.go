package evtx

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rawsec-binxml/encoding"
)

type ValueType uint8

// unsized marks a value read from a Value token, its layout carries its own
// length when it is not fixed
const unsized = -1

func (t ValueType) IsArray() bool {
	return t&ArrayType == ArrayType
}

func (t ValueType) Base() ValueType {
	return t &^ ArrayType
}

var valueTypeNames = map[ValueType]string{
	NullType:       "Null",
	StringType:     "String",
	AnsiStringType: "AnsiString",
	Int8Type:       "Int8",
	UInt8Type:      "UInt8",
	Int16Type:      "Int16",
	UInt16Type:     "UInt16",
	Int32Type:      "Int32",
	UInt32Type:     "UInt32",
	Int64Type:      "Int64",
	UInt64Type:     "UInt64",
	Real32Type:     "Real32",
	Real64Type:     "Real64",
	BoolType:       "Bool",
	BinaryType:     "Binary",
	GuidType:       "Guid",
	SizeTType:      "SizeT",
	FileTimeType:   "FileTime",
	SysTimeType:    "SysTime",
	SidType:        "Sid",
	HexInt32Type:   "HexInt32",
	HexInt64Type:   "HexInt64",
	EvtHandleType:  "EvtHandle",
	BinXmlType:     "BinXml",
	EvtXmlType:     "EvtXml",
}

func (t ValueType) String() string {
	name, ok := valueTypeNames[t.Base()]
	if !ok {
		name = fmt.Sprintf("Unknown(0x%02x)", uint8(t.Base()))
	}
	if t.IsArray() {
		return "ArrayOf" + name
	}
	return name
}

// Value is a decoded typed value. String returns the text rendering used in
// XML output, Repr the Go value used in maps and JSON documents.
type Value interface {
	Type() ValueType
	String() string
	Repr() interface{}
}

type ValueNull struct{}

func (ValueNull) Type() ValueType   { return NullType }
func (ValueNull) String() string    { return "" }
func (ValueNull) Repr() interface{} { return nil }

type ValueString struct {
	Value string
}

func (v ValueString) Type() ValueType   { return StringType }
func (v ValueString) String() string    { return v.Value }
func (v ValueString) Repr() interface{} { return v.Value }

type AnsiString struct {
	Value string
}

func (v AnsiString) Type() ValueType   { return AnsiStringType }
func (v AnsiString) String() string    { return v.Value }
func (v AnsiString) Repr() interface{} { return v.Value }

type ValueInt8 struct{ Value int8 }
type ValueUInt8 struct{ Value uint8 }
type ValueInt16 struct{ Value int16 }
type ValueUInt16 struct{ Value uint16 }
type ValueInt32 struct{ Value int32 }
type ValueUInt32 struct{ Value uint32 }
type ValueInt64 struct{ Value int64 }
type ValueUInt64 struct{ Value uint64 }

func (v ValueInt8) Type() ValueType   { return Int8Type }
func (v ValueInt8) String() string    { return strconv.FormatInt(int64(v.Value), 10) }
func (v ValueInt8) Repr() interface{} { return int64(v.Value) }

func (v ValueUInt8) Type() ValueType   { return UInt8Type }
func (v ValueUInt8) String() string    { return strconv.FormatUint(uint64(v.Value), 10) }
func (v ValueUInt8) Repr() interface{} { return uint64(v.Value) }

func (v ValueInt16) Type() ValueType   { return Int16Type }
func (v ValueInt16) String() string    { return strconv.FormatInt(int64(v.Value), 10) }
func (v ValueInt16) Repr() interface{} { return int64(v.Value) }

func (v ValueUInt16) Type() ValueType   { return UInt16Type }
func (v ValueUInt16) String() string    { return strconv.FormatUint(uint64(v.Value), 10) }
func (v ValueUInt16) Repr() interface{} { return uint64(v.Value) }

func (v ValueInt32) Type() ValueType   { return Int32Type }
func (v ValueInt32) String() string    { return strconv.FormatInt(int64(v.Value), 10) }
func (v ValueInt32) Repr() interface{} { return int64(v.Value) }

func (v ValueUInt32) Type() ValueType   { return UInt32Type }
func (v ValueUInt32) String() string    { return strconv.FormatUint(uint64(v.Value), 10) }
func (v ValueUInt32) Repr() interface{} { return uint64(v.Value) }

func (v ValueInt64) Type() ValueType   { return Int64Type }
func (v ValueInt64) String() string    { return strconv.FormatInt(v.Value, 10) }
func (v ValueInt64) Repr() interface{} { return v.Value }

func (v ValueUInt64) Type() ValueType   { return UInt64Type }
func (v ValueUInt64) String() string    { return strconv.FormatUint(v.Value, 10) }
func (v ValueUInt64) Repr() interface{} { return v.Value }

type ValueReal32 struct{ Value float32 }
type ValueReal64 struct{ Value float64 }

func (v ValueReal32) Type() ValueType   { return Real32Type }
func (v ValueReal32) String() string    { return strconv.FormatFloat(float64(v.Value), 'f', -1, 32) }
func (v ValueReal32) Repr() interface{} { return float64(v.Value) }

func (v ValueReal64) Type() ValueType   { return Real64Type }
func (v ValueReal64) String() string    { return strconv.FormatFloat(v.Value, 'f', -1, 64) }
func (v ValueReal64) Repr() interface{} { return v.Value }

type ValueBool struct{ Value bool }

func (v ValueBool) Type() ValueType   { return BoolType }
func (v ValueBool) String() string    { return strconv.FormatBool(v.Value) }
func (v ValueBool) Repr() interface{} { return v.Value }

type ValueBinary struct{ Value []byte }

func (v ValueBinary) Type() ValueType   { return BinaryType }
func (v ValueBinary) String() string    { return strings.ToUpper(hex.EncodeToString(v.Value)) }
func (v ValueBinary) Repr() interface{} { return v.String() }

type ValueGUID struct{ Value uuid.UUID }

func (v ValueGUID) Type() ValueType   { return GuidType }
func (v ValueGUID) String() string    { return GUIDString(v.Value) }
func (v ValueGUID) Repr() interface{} { return v.String() }

type ValueSizeT struct{ Value uint64 }

func (v ValueSizeT) Type() ValueType   { return SizeTType }
func (v ValueSizeT) String() string    { return fmt.Sprintf("0x%x", v.Value) }
func (v ValueSizeT) Repr() interface{} { return v.String() }

type ValueHexInt32 struct{ Value uint32 }
type ValueHexInt64 struct{ Value uint64 }

func (v ValueHexInt32) Type() ValueType   { return HexInt32Type }
func (v ValueHexInt32) String() string    { return fmt.Sprintf("0x%x", v.Value) }
func (v ValueHexInt32) Repr() interface{} { return v.String() }

func (v ValueHexInt64) Type() ValueType   { return HexInt64Type }
func (v ValueHexInt64) String() string    { return fmt.Sprintf("0x%x", v.Value) }
func (v ValueHexInt64) Repr() interface{} { return v.String() }

type ValueFileTime struct{ Value FileTime }

func (v ValueFileTime) Type() ValueType   { return FileTimeType }
func (v ValueFileTime) String() string    { return v.Value.String() }
func (v ValueFileTime) Repr() interface{} { return v.String() }

type ValueSysTime struct{ Value SysTime }

func (v ValueSysTime) Type() ValueType   { return SysTimeType }
func (v ValueSysTime) String() string    { return v.Value.String() }
func (v ValueSysTime) Repr() interface{} { return v.String() }

type ValueSID struct {
	Revision       uint8
	Authority      uint64
	SubAuthorities []uint32
}

func (v ValueSID) Type() ValueType { return SidType }

func (v ValueSID) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", v.Revision, v.Authority)
	for _, sa := range v.SubAuthorities {
		fmt.Fprintf(&b, "-%d", sa)
	}
	return b.String()
}

func (v ValueSID) Repr() interface{} { return v.String() }

// ValueEvtHandle and ValueEvtXml are opaque, only their bytes are kept
type ValueEvtHandle struct{ Data []byte }
type ValueEvtXml struct{ Data []byte }

func (v ValueEvtHandle) Type() ValueType   { return EvtHandleType }
func (v ValueEvtHandle) String() string    { return strings.ToUpper(hex.EncodeToString(v.Data)) }
func (v ValueEvtHandle) Repr() interface{} { return v.String() }

func (v ValueEvtXml) Type() ValueType   { return EvtXmlType }
func (v ValueEvtXml) String() string    { return strings.ToUpper(hex.EncodeToString(v.Data)) }
func (v ValueEvtXml) Repr() interface{} { return v.String() }

// ValueBinXml holds a nested binary XML fragment, it is flattened by
// ExpandTemplates and never reaches a visitor
type ValueBinXml struct {
	Tokens []Token
}

func (v ValueBinXml) Type() ValueType   { return BinXmlType }
func (v ValueBinXml) String() string    { return fmt.Sprintf("BinXml(%d tokens)", len(v.Tokens)) }
func (v ValueBinXml) Repr() interface{} { return v.String() }

type ValueArray struct {
	ItemType ValueType
	Items    []Value
}

func (v ValueArray) Type() ValueType { return v.ItemType | ArrayType }

func (v ValueArray) String() string {
	items := make([]string, len(v.Items))
	for i, it := range v.Items {
		items[i] = it.String()
	}
	return strings.Join(items, ",")
}

func (v ValueArray) Repr() interface{} {
	items := make([]interface{}, len(v.Items))
	for i, it := range v.Items {
		items[i] = it.Repr()
	}
	return items
}

// fixedSize returns the width of the types having one, 0 otherwise
func fixedSize(t ValueType) int {
	switch t {
	case Int8Type, UInt8Type:
		return 1
	case Int16Type, UInt16Type:
		return 2
	case Int32Type, UInt32Type, Real32Type, HexInt32Type, BoolType:
		return 4
	case Int64Type, UInt64Type, Real64Type, HexInt64Type, FileTimeType, SizeTType:
		return 8
	case GuidType, SysTimeType:
		return 16
	}
	return 0
}

func (d *Deserializer) readFixed(t ValueType) (Value, error) {
	var err error
	switch t {
	case Int8Type:
		var v int8
		err = d.read(&v)
		return ValueInt8{v}, err
	case UInt8Type:
		var v uint8
		err = d.read(&v)
		return ValueUInt8{v}, err
	case Int16Type:
		var v int16
		err = d.read(&v)
		return ValueInt16{v}, err
	case UInt16Type:
		var v uint16
		err = d.read(&v)
		return ValueUInt16{v}, err
	case Int32Type:
		var v int32
		err = d.read(&v)
		return ValueInt32{v}, err
	case UInt32Type:
		var v uint32
		err = d.read(&v)
		return ValueUInt32{v}, err
	case Int64Type:
		var v int64
		err = d.read(&v)
		return ValueInt64{v}, err
	case UInt64Type:
		var v uint64
		err = d.read(&v)
		return ValueUInt64{v}, err
	case Real32Type:
		var v float32
		err = d.read(&v)
		return ValueReal32{v}, err
	case Real64Type:
		var v float64
		err = d.read(&v)
		return ValueReal64{v}, err
	case BoolType:
		var v uint32
		err = d.read(&v)
		return ValueBool{v != 0}, err
	case HexInt32Type:
		var v uint32
		err = d.read(&v)
		return ValueHexInt32{v}, err
	case HexInt64Type:
		var v uint64
		err = d.read(&v)
		return ValueHexInt64{v}, err
	case SizeTType:
		var v uint64
		err = d.read(&v)
		return ValueSizeT{v}, err
	case FileTimeType:
		var v FileTime
		err = d.read(&v)
		return ValueFileTime{v}, err
	case SysTimeType:
		var v SysTime
		err = d.read(&v)
		return ValueSysTime{v}, err
	case GuidType:
		var raw [16]byte
		err = d.read(&raw)
		return ValueGUID{GUIDFromBytes(raw)}, err
	}
	return nil, d.fail(ErrInvalidValueType, BackupSeeker(d.reader), "%s has no fixed size", t)
}

// readValue decodes a value of type t. A size of unsized reads the value as
// found after a Value token, any other size is the one given by the value
// descriptor of a template instance.
func (d *Deserializer) readValue(t ValueType, size int) (Value, error) {
	start := BackupSeeker(d.reader)
	if size > 0 {
		if err := d.ensure(int64(size)); err != nil {
			return nil, err
		}
	}

	if t.IsArray() {
		if size == unsized {
			return nil, d.fail(ErrInvalidValueType, start, "array of %s outside of a template instance", t.Base())
		}
		return d.readArray(t.Base(), size)
	}

	// empty optional values
	if size == 0 && fixedSize(t) > 0 {
		return ValueNull{}, nil
	}

	switch t {
	case NullType:
		if size > 0 {
			RelGoToSeeker(d.reader, int64(size))
		}
		return ValueNull{}, nil

	case StringType:
		if size == unsized {
			s, err := d.readUnicodeText()
			return ValueString{s}, err
		}
		us, err := d.readUTF16(size / 2)
		if err != nil {
			return nil, err
		}
		s, err := us.TrimNull().ToString()
		if err != nil {
			return nil, d.fail(err, start, "")
		}
		return ValueString{s}, nil

	case AnsiStringType:
		n := size
		if size == unsized {
			var l uint16
			if err := d.read(&l); err != nil {
				return nil, err
			}
			n = int(l)
		}
		b, err := d.readBytes(n)
		if err != nil {
			return nil, err
		}
		s, err := d.decodeAnsi(bytes.TrimRight(b, "\x00"))
		if err != nil {
			return nil, d.fail(ErrInvalidStringEncoding, start, "%v", err)
		}
		return AnsiString{s}, nil

	case BinaryType:
		n := size
		if size == unsized {
			var l uint32
			if err := d.read(&l); err != nil {
				return nil, err
			}
			n = int(l)
		}
		b, err := d.readBytes(n)
		return ValueBinary{b}, err

	case SizeTType:
		if size == 4 {
			var v uint32
			err := d.read(&v)
			return ValueSizeT{uint64(v)}, err
		}

	case BoolType:
		if size > 0 && size < 4 {
			b, err := d.readBytes(size)
			return ValueBool{!isZero(b)}, err
		}

	case SidType:
		return d.readSID()

	case EvtHandleType, EvtXmlType:
		if size == unsized {
			return nil, d.fail(ErrInvalidValueType, start, "%s outside of a template instance", t)
		}
		b, err := d.readBytes(size)
		if t == EvtHandleType {
			return ValueEvtHandle{b}, err
		}
		return ValueEvtXml{b}, err

	case BinXmlType:
		budget := int64(size)
		if size == unsized {
			budget = -1
		}
		tokens, err := d.nested(budget).Tokens()
		if err != nil {
			return nil, err
		}
		return ValueBinXml{tokens}, nil
	}

	w := fixedSize(t)
	if w == 0 {
		return nil, d.fail(ErrInvalidValueType, start, "value type 0x%02x", uint8(t))
	}
	if size != unsized && size < w {
		return nil, d.fail(ErrInvalidValueType, start, "%s of %d bytes", t, size)
	}
	return d.readFixed(t)
}

func (d *Deserializer) readSID() (Value, error) {
	var h struct {
		Revision  uint8
		Count     uint8
		Authority [6]byte
	}
	if err := d.read(&h); err != nil {
		return nil, err
	}
	sid := ValueSID{Revision: h.Revision, SubAuthorities: make([]uint32, h.Count)}
	for _, b := range h.Authority {
		sid.Authority = sid.Authority<<8 | uint64(b)
	}
	if h.Count > 0 {
		if err := d.ensure(int64(h.Count) * 4); err != nil {
			return nil, err
		}
		if err := encoding.UnmarshaInitSlice(d.reader, &sid.SubAuthorities, Endianness); err != nil {
			return nil, d.fail(ErrUnexpectedEOF, BackupSeeker(d.reader), "%v", err)
		}
	}
	return sid, nil
}

func (d *Deserializer) readArray(base ValueType, size int) (Value, error) {
	start := BackupSeeker(d.reader)
	end := start + int64(size)
	arr := ValueArray{ItemType: base}

	switch base {
	case StringType:
		us, err := d.readUTF16(size / 2)
		if err != nil {
			return nil, err
		}
		for _, part := range splitNull(us) {
			s, err := part.ToString()
			if err != nil {
				return nil, d.fail(err, start, "string array")
			}
			arr.Items = append(arr.Items, ValueString{s})
		}

	case AnsiStringType:
		b, err := d.readBytes(size)
		if err != nil {
			return nil, err
		}
		parts := bytes.Split(b, []byte{0})
		if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
			parts = parts[:len(parts)-1]
		}
		for _, p := range parts {
			s, err := d.decodeAnsi(p)
			if err != nil {
				return nil, d.fail(ErrInvalidStringEncoding, start, "%v", err)
			}
			arr.Items = append(arr.Items, AnsiString{s})
		}

	case SidType:
		for BackupSeeker(d.reader) < end {
			v, err := d.readSID()
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, v)
		}

	default:
		w := fixedSize(base)
		if w == 0 {
			return nil, d.fail(ErrInvalidValueType, start, "array of %s", base)
		}
		for i := 0; i < size/w; i++ {
			v, err := d.readFixed(base)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, v)
		}
	}

	if BackupSeeker(d.reader) > end {
		return nil, d.fail(ErrOutOfBounds, start, "array of %s overruns its %d bytes", base, size)
	}
	GoToSeeker(d.reader, end)
	return arr, nil
}

func (d *Deserializer) decodeAnsi(b []byte) (string, error) {
	out, err := d.ctx.settings.ansiCodec().NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// splitNull splits NUL separated strings, the last terminator is optional
func splitNull(us UTF16String) []UTF16String {
	var parts []UTF16String
	last := 0
	for i, c := range us {
		if c == 0 {
			parts = append(parts, us[last:i])
			last = i + 1
		}
	}
	if last < len(us) {
		parts = append(parts, us[last:])
	}
	return parts
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
