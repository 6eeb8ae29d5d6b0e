package evtx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func typesOf(tokens []Token) []string {
	types := make([]string, len(tokens))
	for i, tok := range tokens {
		types[i] = fmt.Sprintf("%T", tok)
	}
	return types
}

func TestDeserializerTokens(t *testing.T) {
	b := newBinXML(t, 16)
	start := b.off()
	b.fragment().
		openAttrs("Event").attr("xmlns").text("ns").closeStart().
		text("hi").
		end().
		eof()
	// anything after the end of stream token is left alone
	b.raw(0xff, 0xff)

	tokens, err := NewDeserializer(b.ctx(), int64(start), -1).Tokens()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"evtx.FragmentHeader",
		"evtx.ElementStart",
		"evtx.AttributeList",
		"evtx.Attribute",
		"evtx.BinXMLValue",
		"evtx.BinXMLCloseStartElementTag",
		"evtx.BinXMLValue",
		"evtx.BinXMLEndElementTag",
		"evtx.BinXMLEOF",
	}
	if got := typesOf(tokens); !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	if name := tokens[1].(ElementStart).Name.String(); name != "Event" {
		t.Errorf("element name = %q, want Event", name)
	}
	if name := tokens[3].(Attribute).Name.String(); name != "xmlns" {
		t.Errorf("attribute name = %q, want xmlns", name)
	}
	if v := tokens[6].(BinXMLValue).Value; v.String() != "hi" || v.Type() != StringType {
		t.Errorf("value = %v (%s), want hi", v, v.Type())
	}
}

func TestDeserializerBudget(t *testing.T) {
	b := newBinXML(t, 8)
	start := b.off()
	b.open("A").closeEmpty()
	size := b.off() - start
	b.raw(0xff)

	tokens, err := NewDeserializer(b.ctx(), int64(start), int64(size)).Tokens()
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 {
		t.Errorf("got %d tokens, want 2", len(tokens))
	}
}

func TestDeserializerTokenOverrunsBudget(t *testing.T) {
	b := newBinXML(t, 8)
	start := b.off()
	b.fragment().text("abc").eof()

	tokens, err := NewDeserializer(b.ctx(), int64(start), 4+5).Tokens()
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("error = %v, want %v", err, ErrOutOfBounds)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Offset != int64(start)+4 {
		t.Errorf("error %v not located at 0x%x", err, start+4)
	}
	if len(tokens) != 1 {
		t.Errorf("got %d tokens before the overrun, want 1", len(tokens))
	}

	// the whole value fits
	if _, err := NewDeserializer(b.ctx(), int64(start), 4+10).Tokens(); err != nil {
		t.Error(err)
	}
}

func TestTemplateInstanceValueCountLimit(t *testing.T) {
	b := newBinXML(t, 8)
	start := b.off()
	b.raw(TokenTemplateInstance, 1).u32(1).u32(0)
	countAt := b.off()
	b.u32(MaxSliceSize/4 + 1)
	// enough bytes for the descriptors, only the limit fails
	b.raw(make([]byte, MaxSliceSize+16)...)

	_, err := NewDeserializer(b.ctx(), int64(start), -1).Tokens()
	var de *DecodeError
	if !errors.As(err, &de) || !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("error = %v, want %v", err, ErrOutOfBounds)
	}
	if de.Offset != int64(countAt) {
		t.Errorf("offset = 0x%x, want 0x%x", de.Offset, countAt)
	}
	if !strings.Contains(err.Error(), "template values") {
		t.Errorf("message %q does not name the value count", err)
	}
}

func TestDeserializerNameFromCache(t *testing.T) {
	b := newBinXML(t, 8)
	nameOffset := b.off()
	b.name("System", 0)
	start := b.off()
	b.openAt(nameOffset).closeEmpty().eof()

	ctx := b.ctx()
	ctx.strings.Populate(ctx.data, []Offset{nameOffset})
	if ctx.strings.Len() != 1 {
		t.Fatalf("string cache holds %d names, want 1", ctx.strings.Len())
	}

	tokens, err := NewDeserializer(ctx, int64(start), -1).Tokens()
	if err != nil {
		t.Fatal(err)
	}
	cached, _ := ctx.strings.Get(nameOffset)
	if es := tokens[0].(ElementStart); es.Name != cached {
		t.Errorf("element name %v does not come from the cache", es.Name)
	}

	// without cache the name is decoded in place
	tokens, err = NewDeserializer(b.ctx(), int64(start), -1).Tokens()
	if err != nil {
		t.Fatal(err)
	}
	if name := tokens[0].(ElementStart).Name.String(); name != "System" {
		t.Errorf("element name = %q, want System", name)
	}
}

func TestDeserializerErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *binXML)
		want  error
	}{
		{"invalid opcode", func(b *binXML) {
			b.fragment().raw(0xff)
		}, ErrInvalidToken},
		{"truncated element", func(b *binXML) {
			b.raw(TokenOpenStartElementTag1, 0)
		}, ErrUnexpectedEOF},
		{"name out of chunk", func(b *binXML) {
			b.raw(TokenOpenStartElementTag1).u16(0).u32(0).u32(0xffff)
		}, ErrOutOfBounds},
		{"name without terminator", func(b *binXML) {
			b.raw(TokenOpenStartElementTag1).u16(0).u32(0)
			b.u32(b.off() + 4)
			b.marshal(&nameHeader{Size: 1}).utf16("AB")
		}, ErrInvalidName},
		{"name larger than chunk", func(b *binXML) {
			b.raw(TokenOpenStartElementTag1).u16(0).u32(0)
			b.u32(b.off() + 4)
			b.marshal(&nameHeader{Size: 200}).utf16("AB")
		}, ErrOutOfBounds},
		{"unpaired surrogate", func(b *binXML) {
			b.raw(TokenValue1, uint8(StringType)).u16(1).u16(0xd800)
		}, ErrInvalidStringEncoding},
		{"unknown value type", func(b *binXML) {
			b.raw(TokenValue1, 0x30, 0, 0, 0, 0)
		}, ErrInvalidValueType},
		{"value count out of bounds", func(b *binXML) {
			b.raw(TokenTemplateInstance, 1).u32(1).u32(0).u32(1000)
		}, ErrOutOfBounds},
		{"value size out of bounds", func(b *binXML) {
			b.raw(TokenTemplateInstance, 1).u32(1).u32(0).u32(1)
			b.u16(100).u8(uint8(StringType)).u8(0).utf16("ab")
		}, ErrOutOfBounds},
		{"inline definition out of bounds", func(b *binXML) {
			b.raw(TokenTemplateInstance, 1).u32(1)
			b.u32(b.off() + 4)
			b.marshal(&TemplateDefinitionHeader{DataSize: 1000})
		}, ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBinXML(t, 16)
			start := b.off()
			tt.build(b)
			_, err := NewDeserializer(b.ctx(), int64(start), -1).Tokens()
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %v is not a DecodeError", err)
			}
			if de.Offset < int64(start) {
				t.Errorf("error offset 0x%x before stream start 0x%x", de.Offset, start)
			}
		})
	}
}

func TestDecodeErrorContext(t *testing.T) {
	b := newBinXML(t, 32)
	start := b.off()
	b.fragment().raw(0xfe)

	_, err := NewDeserializer(b.ctx(), int64(start), -1).Tokens()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error %v is not a DecodeError", err)
	}
	if de.Offset != int64(start)+4 {
		t.Errorf("offset = 0x%x, want 0x%x", de.Offset, start+4)
	}
	if !strings.Contains(err.Error(), "opcode 0xfe") {
		t.Errorf("message %q does not name the opcode", err)
	}
	if de.ContextOffset != de.Offset-contextWindow || len(de.Context) != contextWindow+1 {
		t.Errorf("context [0x%x, %d bytes]", de.ContextOffset, len(de.Context))
	}
}

func TestDeserializerStartOutOfChunk(t *testing.T) {
	b := newBinXML(t, 4)
	_, err := NewDeserializer(b.ctx(), 100, -1).Tokens()
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("error = %v, want %v", err, ErrOutOfBounds)
	}
}

func TestTemplateInstanceValues(t *testing.T) {
	b := newBinXML(t, 16)
	start := b.off()
	def := b.instanceInline(dataTemplate, strValue("x"), u32Value(4624), nullValue())
	b.eof()

	tokens, err := NewDeserializer(b.ctx(), int64(start), -1).Tokens()
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(tokens))
	}
	ti := tokens[0].(TemplateInstance)
	if ti.Ref.DefinitionOffset != def {
		t.Errorf("definition offset = 0x%x, want 0x%x", ti.Ref.DefinitionOffset, def)
	}
	want := []Value{ValueString{"x"}, ValueUInt32{4624}, ValueNull{}}
	if len(ti.Ref.Substitutions) != len(want) {
		t.Fatalf("got %d values, want %d", len(ti.Ref.Substitutions), len(want))
	}
	for i, w := range want {
		if got := ti.Ref.Substitutions[i].(BinXMLValue).Value; !reflect.DeepEqual(got, w) {
			t.Errorf("value %d = %#v, want %#v", i, got, w)
		}
	}
}

func TestTemplateAt(t *testing.T) {
	b := newBinXML(t, 16)
	def := b.templateDef(0, dataTemplate)

	td, err := b.ctx().TemplateAt(def)
	if err != nil {
		t.Fatal(err)
	}
	if got := GUIDString(td.GUID()); got != "DDCCBBAA-0201-0403-0506-0708090A0B0C" {
		t.Errorf("template GUID = %s", got)
	}
	if td.Tokens[len(td.Tokens)-1] != Token(BinXMLEOF{}) {
		t.Errorf("template does not end with an end of stream token: %v", typesOf(td.Tokens))
	}

	if _, err := b.ctx().TemplateAt(b.off() - 4); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("error = %v, want %v", err, ErrOutOfBounds)
	}
}

func TestNestedBinXmlDepth(t *testing.T) {
	b := newBinXML(t, 16)
	start := b.off()
	// each value holds the next one
	const depth = 4
	for i := 0; i < depth; i++ {
		b.raw(TokenValue1, uint8(BinXmlType))
	}
	b.open("A").closeEmpty().eof()
	for i := 0; i < depth; i++ {
		b.eof()
	}

	ctx := b.ctx()
	if _, err := NewDeserializer(ctx, int64(start), -1).Tokens(); err != nil {
		t.Fatal(err)
	}

	ctx.settings.MaxNestingDepth = depth - 1
	if _, err := NewDeserializer(ctx, int64(start), -1).Tokens(); !errors.Is(err, ErrMaxDepth) {
		t.Errorf("error = %v, want %v", err, ErrMaxDepth)
	}
}
