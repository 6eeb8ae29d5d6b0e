package evtx

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"
	"unicode/utf16"

	"rawsec-binxml/encoding"
	"rawsec-binxml/log"
)

func init() {
	log.SetOutput(io.Discard)
}

// binXML assembles binary XML at absolute offsets, so that inline names and
// template definitions point where the decoder expects them
type binXML struct {
	t   testing.TB
	buf bytes.Buffer
}

func newBinXML(t testing.TB, pad int) *binXML {
	b := &binXML{t: t}
	b.buf.Write(make([]byte, pad))
	return b
}

func (b *binXML) off() uint32 {
	return uint32(b.buf.Len())
}

func (b *binXML) bytes() []byte {
	return b.buf.Bytes()
}

func (b *binXML) ctx() *ParsingContext {
	return NewParsingContext(b.bytes(), NewStringCache(), NewTemplateCache(), DefaultSettings)
}

func (b *binXML) marshal(data interface{}) *binXML {
	raw, err := encoding.Marshal(data, Endianness)
	if err != nil {
		b.t.Fatal(err)
	}
	b.buf.Write(raw)
	return b
}

func (b *binXML) raw(p ...byte) *binXML {
	b.buf.Write(p)
	return b
}

func (b *binXML) u8(v uint8) *binXML   { return b.marshal(&v) }
func (b *binXML) u16(v uint16) *binXML { return b.marshal(&v) }
func (b *binXML) u32(v uint32) *binXML { return b.marshal(&v) }

func (b *binXML) patch32(at uint32, v uint32) {
	Endianness.PutUint32(b.buf.Bytes()[at:], v)
}

func (b *binXML) patch16(at uint32, v uint16) {
	Endianness.PutUint16(b.buf.Bytes()[at:], v)
}

// utf16 writes the characters of s, without length nor terminator
func (b *binXML) utf16(s string) *binXML {
	for _, c := range utf16.Encode([]rune(s)) {
		b.u16(c)
	}
	return b
}

// name writes a name record at the current position
func (b *binXML) name(s string, next uint32) *binXML {
	chars := utf16.Encode([]rune(s))
	b.marshal(&nameHeader{NextOffset: next, Size: uint16(len(chars))})
	return b.utf16(s).u16(0)
}

// nameRef writes a name reference followed by the name when inline
func (b *binXML) nameRef(s string) *binXML {
	b.u32(b.off() + 4)
	return b.name(s, 0)
}

func (b *binXML) fragment() *binXML {
	return b.raw(FragmentHeaderToken, 1, 1, 0)
}

func (b *binXML) eof() *binXML {
	return b.raw(TokenEOF)
}

func (b *binXML) open(name string) *binXML {
	b.raw(TokenOpenStartElementTag1).u16(0).u32(0)
	return b.nameRef(name)
}

// openAttrs starts an element having attributes, the attribute list size is
// left to zero
func (b *binXML) openAttrs(name string) *binXML {
	b.raw(TokenOpenStartElementTag2).u16(0).u32(0)
	return b.nameRef(name).u32(0)
}

// openAt starts an element whose name lives at offset
func (b *binXML) openAt(offset uint32) *binXML {
	return b.raw(TokenOpenStartElementTag1).u16(0).u32(0).u32(offset)
}

func (b *binXML) attr(name string) *binXML {
	b.raw(TokenAttribute1)
	return b.nameRef(name)
}

func (b *binXML) closeStart() *binXML { return b.raw(TokenCloseStartElementTag) }
func (b *binXML) closeEmpty() *binXML { return b.raw(TokenCloseEmptyElementTag) }
func (b *binXML) end() *binXML        { return b.raw(TokenEndElementTag) }

func (b *binXML) text(s string) *binXML {
	b.raw(TokenValue1, uint8(StringType)).u16(uint16(len(utf16.Encode([]rune(s)))))
	return b.utf16(s)
}

func (b *binXML) subst(index uint16, vt ValueType) *binXML {
	return b.raw(TokenNormalSubstitution).u16(index).u8(uint8(vt))
}

func (b *binXML) optSubst(index uint16, vt ValueType) *binXML {
	return b.raw(TokenOptionalSubstitution).u16(index).u8(uint8(vt))
}

// templateDef writes a definition header followed by body and returns the
// offset of the definition
func (b *binXML) templateDef(next uint32, body func(*binXML)) uint32 {
	offset := b.off()
	b.marshal(&TemplateDefinitionHeader{NextOffset: next, ID: [16]byte{0xaa, 0xbb, 0xcc, 0xdd, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}})
	start := b.off()
	body(b)
	b.patch32(offset+20, b.off()-start)
	return offset
}

// subValue is a template instance value, write emits its raw bytes
type subValue struct {
	vt    ValueType
	write func(*binXML)
}

func strValue(s string) subValue {
	return subValue{StringType, func(b *binXML) { b.utf16(s) }}
}

func u32Value(v uint32) subValue {
	return subValue{UInt32Type, func(b *binXML) { b.u32(v) }}
}

func nullValue() subValue {
	return subValue{NullType, func(*binXML) {}}
}

func binXMLValue(body func(*binXML)) subValue {
	return subValue{BinXmlType, body}
}

func (b *binXML) values(vals []subValue) *binXML {
	b.u32(uint32(len(vals)))
	descs := b.off()
	for _, v := range vals {
		b.u16(0).u8(uint8(v.vt)).u8(0)
	}
	for i, v := range vals {
		start := b.off()
		v.write(b)
		b.patch16(descs+uint32(i)*4, uint16(b.off()-start))
	}
	return b
}

// instance references the definition found at def
func (b *binXML) instance(def uint32, vals ...subValue) *binXML {
	b.raw(TokenTemplateInstance, 1).u32(0x1234).u32(def)
	return b.values(vals)
}

// instanceInline writes the definition right after the instance header, as
// on the first use of a template in a chunk
func (b *binXML) instanceInline(body func(*binXML), vals ...subValue) uint32 {
	b.raw(TokenTemplateInstance, 1).u32(0x1234)
	b.u32(b.off() + 4)
	def := b.templateDef(0, body)
	b.values(vals)
	return def
}

// dataTemplate is <Event><Data>%0</Data></Event>
func dataTemplate(b *binXML) {
	b.fragment().
		open("Event").closeStart().
		open("Data").closeStart().
		subst(0, StringType).
		end().
		end().
		eof()
}

// chunkBuilder lays records out after a chunk header
type chunkBuilder struct {
	*binXML
	header  ChunkHeader
	lastRec uint32
	nextID  uint64
}

func newChunkBuilder(t testing.TB) *chunkBuilder {
	cb := &chunkBuilder{binXML: newBinXML(t, ChunkDataOffset), nextID: 1}
	copy(cb.header.Magic[:], ChunkMagic)
	cb.header.SizeHeader = ChunkHeaderSize
	return cb
}

// record writes a record whose binary XML is written by body
func (cb *chunkBuilder) record(body func(*binXML)) *chunkBuilder {
	offset := cb.off()
	cb.marshal(&EventHeader{Size: 0, ID: cb.nextID, Timestamp: FileTime{132000000000000000}})
	copy(cb.buf.Bytes()[offset:], EventMagic)
	body(cb.binXML)
	size := cb.off() - offset + 4
	cb.u32(size)
	cb.patch32(offset+4, size)
	if cb.header.FirstEventRecID == 0 {
		cb.header.FirstEventRecID = cb.nextID
	}
	cb.header.LastEventRecID = cb.nextID
	cb.lastRec = offset
	cb.nextID++
	return cb
}

// chunk writes the header with valid checksums and pads to the chunk size
func (cb *chunkBuilder) chunk() []byte {
	h := cb.header
	h.OffsetLastRec = cb.lastRec
	h.Freespace = cb.off()
	data := append([]byte(nil), cb.bytes()...)
	data = append(data, make([]byte, ChunkSize-len(data))...)
	h.EventsCheckSum = crc32.ChecksumIEEE(data[ChunkDataOffset:h.Freespace])

	raw, err := encoding.Marshal(&h, Endianness)
	if err != nil {
		cb.t.Fatal(err)
	}
	copy(data, raw)
	crc := crc32.NewIEEE()
	crc.Write(data[:chunkHeaderCRCEnd])
	crc.Write(data[ChunkHeaderSize:ChunkDataOffset])
	Endianness.PutUint32(data[0x7c:], crc.Sum32())
	return data
}

// fileWith prepends a file header to chunks
func fileWith(t testing.TB, flags uint32, chunks ...[]byte) []byte {
	const headerSpace = 0x1000
	h := FileHeader{
		HeaderSpace:     headerSpace,
		MinVersion:      1,
		MajVersion:      3,
		ChunkDataOffset: headerSpace,
		ChunkCount:      uint16(len(chunks)),
		LastChunkNum:    uint64(len(chunks) - 1),
		Flags:           flags,
	}
	copy(h.Magic[:], FileMagic)
	raw, err := encoding.Marshal(&h, Endianness)
	if err != nil {
		t.Fatal(err)
	}
	data := append(raw, make([]byte, headerSpace-len(raw))...)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return data
}
