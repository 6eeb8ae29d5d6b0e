package evtx

import (
	"bytes"
	"io"

	"rawsec-binxml/encoding"
)

// ParsingContext gathers what the decoding of a chunk needs: its bytes, its
// two caches and the settings. It is read-only once built and can be shared
// by any number of deserializers.
type ParsingContext struct {
	data      []byte
	strings   *StringCache
	templates *TemplateCache
	settings  Settings
}

func NewParsingContext(data []byte, strings *StringCache, templates *TemplateCache, settings Settings) *ParsingContext {
	return &ParsingContext{data: data, strings: strings, templates: templates, settings: settings}
}

func (ctx *ParsingContext) Data() []byte {
	return ctx.data
}

func (ctx *ParsingContext) Settings() Settings {
	return ctx.settings
}

func (ctx *ParsingContext) Strings() *StringCache {
	return ctx.strings
}

func (ctx *ParsingContext) Templates() *TemplateCache {
	return ctx.templates
}

// TemplateAt decodes the template definition located at offset without
// looking at the template cache
func (ctx *ParsingContext) TemplateAt(offset Offset) (*TemplateDefinition, error) {
	if int64(offset)+templateDefinitionHeaderSize > int64(len(ctx.data)) {
		return nil, newDecodeError(ctx.data, ErrOutOfBounds, int64(offset), "template definition out of chunk")
	}
	reader := bytes.NewReader(ctx.data)
	GoToSeeker(reader, int64(offset))
	td := &TemplateDefinition{Offset: offset}
	if err := encoding.Unmarshal(reader, &td.Header, Endianness); err != nil {
		return nil, newDecodeError(ctx.data, ErrUnexpectedEOF, int64(offset), "%v", err)
	}
	if int64(td.Header.DataSize) > int64(reader.Len()) {
		return nil, newDecodeError(ctx.data, ErrOutOfBounds, int64(offset),
			"template data size %d, %d bytes left", td.Header.DataSize, reader.Len())
	}
	d := &Deserializer{
		ctx:    ctx,
		reader: reader,
		start:  BackupSeeker(reader),
		budget: int64(td.Header.DataSize),
	}
	tokens, err := d.Tokens()
	if err != nil {
		return nil, err
	}
	td.Tokens = tokens
	return td, nil
}

// Deserializer iterates over the binary XML tokens found at an offset of a
// chunk, until a byte budget is consumed or an end of stream token is read
//
//	d := NewDeserializer(ctx, offset, size)
//	for d.Next() {
//		tok := d.Token()
//	}
//	if err := d.Err(); err != nil {
//	}
type Deserializer struct {
	ctx    *ParsingContext
	reader *bytes.Reader
	start  int64
	// negative when the stream ends with an end of stream token only
	budget  int64
	depth   int
	pending []Token
	token   Token
	err     error
	done    bool
}

// NewDeserializer starts decoding at offset, dataSize < 0 decodes until the
// end of stream token
func NewDeserializer(ctx *ParsingContext, offset int64, dataSize int64) *Deserializer {
	d := &Deserializer{
		ctx:    ctx,
		reader: bytes.NewReader(ctx.data),
		start:  offset,
		budget: dataSize,
	}
	if offset < 0 || offset > int64(len(ctx.data)) {
		d.err = newDecodeError(ctx.data, ErrOutOfBounds, offset, "start of stream out of chunk")
		d.done = true
		return d
	}
	GoToSeeker(d.reader, offset)
	return d
}

// nested returns a deserializer for the binary XML value at the current
// position, it shares the reader of its parent
func (d *Deserializer) nested(budget int64) *Deserializer {
	n := &Deserializer{
		ctx:    d.ctx,
		reader: d.reader,
		start:  BackupSeeker(d.reader),
		budget: budget,
		depth:  d.depth + 1,
	}
	if n.depth > d.ctx.settings.maxDepth() {
		n.err = d.fail(ErrMaxDepth, n.start, "nested binary xml at depth %d", n.depth)
		n.done = true
	}
	return n
}

func (d *Deserializer) Next() bool {
	if len(d.pending) > 0 {
		d.token, d.pending = d.pending[0], d.pending[1:]
		return true
	}
	if d.done {
		return false
	}
	if d.budget >= 0 && BackupSeeker(d.reader)-d.start >= d.budget {
		d.done = true
		return false
	}
	offset := BackupSeeker(d.reader)
	tok, err := d.readToken()
	if err == nil && d.budget >= 0 && BackupSeeker(d.reader)-d.start > d.budget {
		err = d.fail(ErrOutOfBounds, offset, "%T overruns the %d bytes of the stream", tok, d.budget)
		d.pending = nil
	}
	if err != nil {
		d.err = err
		d.done = true
		return false
	}
	if _, ok := tok.(BinXMLEOF); ok {
		d.done = true
	}
	d.token = tok
	return true
}

func (d *Deserializer) Token() Token {
	return d.token
}

func (d *Deserializer) Err() error {
	return d.err
}

// Offset returns the current position in the chunk
func (d *Deserializer) Offset() int64 {
	return BackupSeeker(d.reader)
}

// Tokens consumes the deserializer. On error the tokens read so far are
// returned along with it.
func (d *Deserializer) Tokens() ([]Token, error) {
	tokens := make([]Token, 0)
	for d.Next() {
		tokens = append(tokens, d.Token())
	}
	return tokens, d.Err()
}

func (d *Deserializer) fail(err error, offset int64, format string, args ...interface{}) error {
	if de, ok := err.(*DecodeError); ok {
		return de
	}
	return newDecodeError(d.ctx.data, err, offset, format, args...)
}

func (d *Deserializer) read(data interface{}) error {
	offset := BackupSeeker(d.reader)
	if err := encoding.Unmarshal(d.reader, data, Endianness); err != nil {
		return d.fail(ErrUnexpectedEOF, offset, "%v", err)
	}
	return nil
}

// ensure fails when less than n bytes are left
func (d *Deserializer) ensure(n int64) error {
	if n < 0 || n > int64(d.reader.Len()) {
		return d.fail(ErrOutOfBounds, BackupSeeker(d.reader), "%d bytes declared, %d left", n, d.reader.Len())
	}
	return nil
}

func (d *Deserializer) readBytes(n int) ([]byte, error) {
	if err := d.ensure(int64(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.reader, b); err != nil {
		return nil, d.fail(ErrUnexpectedEOF, BackupSeeker(d.reader), "%v", err)
	}
	return b, nil
}

func (d *Deserializer) readToken() (Token, error) {
	offset := BackupSeeker(d.reader)
	var op uint8
	if err := d.read(&op); err != nil {
		return nil, err
	}

	switch op {
	case TokenEOF:
		return BinXMLEOF{}, nil

	case TokenOpenStartElementTag1, TokenOpenStartElementTag2:
		return d.readElementStart(op == TokenOpenStartElementTag2)

	case TokenCloseStartElementTag:
		return BinXMLCloseStartElementTag{}, nil

	case TokenCloseEmptyElementTag:
		return BinXMLCloseEmptyElementTag{}, nil

	case TokenEndElementTag:
		return BinXMLEndElementTag{}, nil

	case TokenValue1, TokenValue2:
		var vt ValueType
		if err := d.read(&vt); err != nil {
			return nil, err
		}
		v, err := d.readValue(vt, unsized)
		if err != nil {
			return nil, err
		}
		return BinXMLValue{v}, nil

	case TokenAttribute1, TokenAttribute2:
		n, err := d.readNameRef()
		return Attribute{n}, err

	case TokenCDataSection1, TokenCDataSection2:
		s, err := d.readUnicodeText()
		return CDATASection{s}, err

	case TokenCharRef1, TokenCharRef2:
		var c uint16
		err := d.read(&c)
		return CharEntityRef{c}, err

	case TokenEntityRef1, TokenEntityRef2:
		n, err := d.readNameRef()
		return EntityReference{n}, err

	case TokenPITarget:
		n, err := d.readNameRef()
		return PITarget{n}, err

	case TokenPIData:
		s, err := d.readUnicodeText()
		return PIData{s}, err

	case TokenTemplateInstance:
		return d.readTemplateInstance()

	case TokenNormalSubstitution, TokenOptionalSubstitution:
		var s struct {
			Index     uint16
			ValueType ValueType
		}
		if err := d.read(&s); err != nil {
			return nil, err
		}
		optional := op == TokenOptionalSubstitution
		return Substitution{
			Index:     s.Index,
			ValueType: s.ValueType,
			Optional:  optional,
			Ignore:    optional && s.ValueType == NullType,
		}, nil

	case FragmentHeaderToken:
		var fh FragmentHeader
		err := d.read(&fh)
		return fh, err
	}

	return nil, d.fail(ErrInvalidToken, offset, "opcode 0x%02x", op)
}

func (d *Deserializer) readElementStart(hasAttributes bool) (Token, error) {
	var h struct {
		DependencyID uint16
		DataSize     uint32
	}
	if err := d.read(&h); err != nil {
		return nil, err
	}
	n, err := d.readNameRef()
	if err != nil {
		return nil, err
	}
	es := ElementStart{DependencyID: h.DependencyID, DataSize: h.DataSize, Name: n}
	if hasAttributes {
		var al AttributeList
		if err := d.read(&al.Size); err != nil {
			return nil, err
		}
		d.pending = append(d.pending, al)
	}
	return es, nil
}

type valueDescriptor struct {
	Size      uint16
	ValueType ValueType
	Unknown   uint8
}

func (d *Deserializer) readTemplateInstance() (Token, error) {
	var h struct {
		Unknown          uint8
		TemplateID       uint32
		DefinitionOffset uint32
	}
	if err := d.read(&h); err != nil {
		return nil, err
	}
	ref := TemplateRef{TemplateID: h.TemplateID, DefinitionOffset: h.DefinitionOffset}

	// the definition follows the instance when it is the first use in the chunk
	if cursor := BackupSeeker(d.reader); int64(h.DefinitionOffset) == cursor {
		var th TemplateDefinitionHeader
		if err := d.read(&th); err != nil {
			return nil, err
		}
		if err := d.ensure(int64(th.DataSize)); err != nil {
			return nil, err
		}
		RelGoToSeeker(d.reader, int64(th.DataSize))
	}

	var count uint32
	if err := d.read(&count); err != nil {
		return nil, err
	}
	if int64(count)*4 > MaxSliceSize {
		return nil, d.fail(ErrOutOfBounds, BackupSeeker(d.reader)-4, "%d template values", count)
	}
	if err := d.ensure(int64(count) * 4); err != nil {
		return nil, err
	}
	ref.Substitutions = make([]Token, count)
	if count == 0 {
		return TemplateInstance{ref}, nil
	}

	descs := make([]valueDescriptor, count)
	if err := encoding.UnmarshaInitSlice(d.reader, &descs, Endianness); err != nil {
		return nil, d.fail(ErrUnexpectedEOF, BackupSeeker(d.reader), "%v", err)
	}
	for i, vd := range descs {
		start := BackupSeeker(d.reader)
		if err := d.ensure(int64(vd.Size)); err != nil {
			return nil, err
		}
		v, err := d.readValue(vd.ValueType, int(vd.Size))
		if err != nil {
			return nil, err
		}
		end := start + int64(vd.Size)
		if BackupSeeker(d.reader) > end {
			return nil, d.fail(ErrOutOfBounds, start, "%s value overruns its %d bytes", vd.ValueType, vd.Size)
		}
		GoToSeeker(d.reader, end)
		ref.Substitutions[i] = BinXMLValue{v}
	}
	return TemplateInstance{ref}, nil
}
