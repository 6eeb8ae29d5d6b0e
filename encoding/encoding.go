package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
)

type Endianness binary.ByteOrder

var (
	ErrInvalidNilPointer  = errors.New("nil pointer is invalid")
	ErrNoPointerInterface = errors.New("interface expect to be a pointer")
	ErrVariableSize       = errors.New("structure does not have a fixed size")
)

// Sizeof returns the number of bytes Unmarshal consumes for data. Only
// structures made of fixed size fields (numbers, arrays and nested
// structures) have a size.
func Sizeof(data interface{}) (int, error) {
	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return 0, ErrInvalidNilPointer
		}
		val = val.Elem()
	}
	n := binary.Size(val.Interface())
	if n < 0 {
		return 0, ErrVariableSize
	}
	return n, nil
}

func marshalElements(elem reflect.Value, endianness Endianness) ([]byte, error) {
	var out []byte
	for k := 0; k < elem.Len(); k++ {
		buff, err := Marshal(elem.Index(k).Addr().Interface(), endianness)
		if err != nil {
			return out, err
		}
		out = append(out, buff...)
	}
	return out, nil
}

// Marshal serializes the structure pointed by data. Slices are prefixed by
// their length encoded as an int64.
func Marshal(data interface{}, endianness Endianness) ([]byte, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Ptr {
		return nil, ErrNoPointerInterface
	}
	if val.IsNil() {
		return nil, ErrInvalidNilPointer
	}
	elem := val.Elem()
	switch elem.Kind() {
	case reflect.Struct:
		var out []byte
		for i := 0; i < elem.NumField(); i++ {
			buff, err := Marshal(elem.Field(i).Addr().Interface(), endianness)
			if err != nil {
				return out, fmt.Errorf("field %s: %w", elem.Type().Field(i).Name, err)
			}
			out = append(out, buff...)
		}
		return out, nil

	case reflect.Array:
		return marshalElements(elem, endianness)

	case reflect.Slice:
		sliceLen := int64(elem.Len())
		out, err := Marshal(&sliceLen, endianness)
		if err != nil {
			return out, err
		}
		buff, err := marshalElements(elem, endianness)
		return append(out, buff...), err

	default:
		writer := new(bytes.Buffer)
		if err := binary.Write(writer, endianness, elem.Interface()); err != nil {
			return nil, err
		}
		return writer.Bytes(), nil
	}
}

// UnmarshaInitSlice fills an already allocated slice, element by element,
// without reading any length prefix.
func UnmarshaInitSlice(reader io.Reader, data interface{}, endianness Endianness) error {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Ptr {
		return ErrNoPointerInterface
	}
	if val.IsNil() {
		return ErrInvalidNilPointer
	}
	slice := val.Elem()
	if slice.Kind() != reflect.Slice {
		return fmt.Errorf("not a slice object")
	}
	if slice.Len() == 0 {
		return fmt.Errorf("not initialized slice")
	}
	// fast path for the UTF-16 strings and descriptor tables we read all the time
	if slice.Type().Elem().Kind() != reflect.Struct {
		return binary.Read(reader, endianness, slice.Interface())
	}
	return unmarshalElements(reader, slice, endianness)
}

func unmarshalElements(reader io.Reader, elem reflect.Value, endianness Endianness) error {
	for k := 0; k < elem.Len(); k++ {
		if err := Unmarshal(reader, elem.Index(k).Addr().Interface(), endianness); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal reads the structure pointed by data field by field. A truncated
// input is reported as io.ErrUnexpectedEOF (io.EOF when nothing was read).
func Unmarshal(reader io.Reader, data interface{}, endianness Endianness) error {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Ptr {
		return ErrNoPointerInterface
	}
	if val.IsNil() {
		return ErrInvalidNilPointer
	}
	elem := val.Elem()
	switch elem.Kind() {
	case reflect.Struct:
		for i := 0; i < elem.NumField(); i++ {
			if err := Unmarshal(reader, elem.Field(i).Addr().Interface(), endianness); err != nil {
				if i > 0 && err == io.EOF {
					return io.ErrUnexpectedEOF
				}
				return err
			}
		}

	case reflect.Array:
		return unmarshalElements(reader, elem, endianness)

	case reflect.Slice:
		var sliceLen int64
		if err := Unmarshal(reader, &sliceLen, endianness); err != nil {
			return err
		}
		if sliceLen < 0 {
			return fmt.Errorf("negative slice length %d", sliceLen)
		}
		elem.Set(reflect.MakeSlice(elem.Type(), int(sliceLen), int(sliceLen)))
		return unmarshalElements(reader, elem, endianness)

	default:
		return binary.Read(reader, endianness, data)
	}
	return nil
}
