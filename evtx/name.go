package evtx

import (
	"bytes"
	"fmt"

	"rawsec-binxml/encoding"
)

type nameHeader struct {
	NextOffset uint32
	Hash       uint16
	Size       uint16
}

// Name is a string record of the chunk: element, attribute, entity and
// processing instruction names all point to one of these
type Name struct {
	NextOffset uint32
	Hash       uint16
	Value      string
}

// Parse reads a name at the current position of reader, the trailing NUL
// character included
func (n *Name) Parse(reader *bytes.Reader) error {
	var h nameHeader
	if err := encoding.Unmarshal(reader, &h, Endianness); err != nil {
		return fmt.Errorf("%w: name header: %v", ErrUnexpectedEOF, err)
	}
	if need := (int(h.Size) + 1) * 2; need > reader.Len() {
		return fmt.Errorf("%w: name of %d characters, %d bytes left", ErrOutOfBounds, h.Size, reader.Len())
	}
	us := make(UTF16String, int(h.Size)+1)
	if err := encoding.UnmarshaInitSlice(reader, &us, Endianness); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
	}
	if us[h.Size] != 0 {
		return fmt.Errorf("%w: missing NUL terminator", ErrInvalidName)
	}
	s, err := us[:h.Size].ToString()
	if err != nil {
		return err
	}
	n.NextOffset, n.Hash, n.Value = h.NextOffset, h.Hash, s
	return nil
}

func (n *Name) String() string {
	if n == nil {
		return ""
	}
	return n.Value
}

// NameAt decodes the name located at offset of data
func NameAt(data []byte, offset int64) (*Name, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, newDecodeError(data, ErrOutOfBounds, offset, "name offset out of chunk")
	}
	reader := bytes.NewReader(data)
	GoToSeeker(reader, offset)
	n := &Name{}
	if err := n.Parse(reader); err != nil {
		return nil, newDecodeError(data, err, offset, "")
	}
	return n, nil
}

// readNameRef reads a name reference. The name is stored inline when its
// offset is the current position, otherwise it is resolved through the
// string cache and decoded in place as a last resort.
func (d *Deserializer) readNameRef() (*Name, error) {
	var offset uint32
	if err := d.read(&offset); err != nil {
		return nil, err
	}
	cursor := BackupSeeker(d.reader)
	if int64(offset) == cursor {
		n := &Name{}
		if err := n.Parse(d.reader); err != nil {
			return nil, d.fail(err, cursor, "inline name")
		}
		return n, nil
	}
	if n, ok := d.ctx.strings.Get(offset); ok {
		return n, nil
	}
	return NameAt(d.ctx.data, int64(offset))
}

// readUnicodeText reads a u16 character count followed by UTF-16 characters
func (d *Deserializer) readUnicodeText() (string, error) {
	var size uint16
	if err := d.read(&size); err != nil {
		return "", err
	}
	us, err := d.readUTF16(int(size))
	if err != nil {
		return "", err
	}
	start := BackupSeeker(d.reader) - int64(us.Len())
	s, err := us.ToString()
	if err != nil {
		return "", d.fail(err, start, "")
	}
	return s, nil
}

func (d *Deserializer) readUTF16(count int) (UTF16String, error) {
	if count == 0 {
		return UTF16String{}, nil
	}
	if err := d.ensure(int64(count) * 2); err != nil {
		return nil, err
	}
	us := make(UTF16String, count)
	if err := encoding.UnmarshaInitSlice(d.reader, &us, Endianness); err != nil {
		return nil, d.fail(ErrUnexpectedEOF, BackupSeeker(d.reader), "%v", err)
	}
	return us, nil
}
