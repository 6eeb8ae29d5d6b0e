package evtx

import (
	"fmt"
	"strings"

	"rawsec-binxml/log"
)

type ModelEventKind int

const (
	StartOfStreamEvent ModelEventKind = iota
	OpenElementEvent
	CloseElementEvent
	ValueEvent
	ProcessingInstructionEvent
	EntityRefEvent
	EndOfStreamEvent
)

var modelEventKindNames = [...]string{
	"StartOfStream",
	"OpenElement",
	"CloseElement",
	"Value",
	"ProcessingInstruction",
	"EntityRef",
	"EndOfStream",
}

func (k ModelEventKind) String() string {
	if k < 0 || int(k) >= len(modelEventKindNames) {
		return fmt.Sprintf("ModelEventKind(%d)", int(k))
	}
	return modelEventKindNames[k]
}

type XMLAttribute struct {
	Name  string
	Value Value
}

type XMLElement struct {
	Name       string
	Attributes []XMLAttribute
}

type XMLProcessingInstruction struct {
	Target string
	Data   string
}

// ModelEvent is one event of a record model, the field set depends on Kind:
// Element for OpenElement and CloseElement, Value, PI and EntityRef for the
// kinds of the same name
type ModelEvent struct {
	Kind      ModelEventKind
	Element   *XMLElement
	Value     Value
	PI        *XMLProcessingInstruction
	EntityRef string
}

type modelBuilder struct {
	events   []ModelEvent
	stack    []*XMLElement
	current  *XMLElement
	attr     *XMLAttribute
	parts    []Value
	piTarget *Name
}

func (b *modelBuilder) emit(e ModelEvent) {
	b.events = append(b.events, e)
}

func (b *modelBuilder) openCurrent() {
	b.emit(ModelEvent{Kind: OpenElementEvent, Element: b.current})
	b.stack = append(b.stack, b.current)
	b.current = nil
}

// flushAttribute adds the pending attribute to the current element. Values
// split by entity references are joined into a single string. An attribute
// which did not get a value, what an ignored optional substitution leaves
// behind, is dropped.
func (b *modelBuilder) flushAttribute() {
	if b.attr == nil {
		return
	}
	switch len(b.parts) {
	case 0:
		log.Debugf("attribute %s has no value, dropped", b.attr.Name)
	case 1:
		b.attr.Value = b.parts[0]
		b.current.Attributes = append(b.current.Attributes, *b.attr)
	default:
		var sb strings.Builder
		for _, p := range b.parts {
			sb.WriteString(p.String())
		}
		b.attr.Value = ValueString{sb.String()}
		b.current.Attributes = append(b.current.Attributes, *b.attr)
	}
	b.attr = nil
	b.parts = nil
}

func (b *modelBuilder) process(tok Token) error {
	if b.attr != nil {
		switch tok.(type) {
		case BinXMLValue, EntityReference, Attribute, BinXMLCloseStartElementTag, BinXMLCloseEmptyElementTag:
			// handled below
		default:
			return fmt.Errorf("%w: %T after attribute %s", ErrBadParserState, tok, b.attr.Name)
		}
	}

	switch t := tok.(type) {
	case StartOfStream, BinXMLEOF, FragmentHeader, AttributeList:
		// the builder sets its own stream bounds

	case ElementStart:
		if b.current != nil {
			b.openCurrent()
		}
		b.current = &XMLElement{Name: t.Name.String()}

	case Attribute:
		if b.current == nil {
			return fmt.Errorf("%w: attribute %s outside of an element", ErrBadParserState, t.Name)
		}
		b.flushAttribute()
		b.attr = &XMLAttribute{Name: t.Name.String()}

	case BinXMLValue:
		switch {
		case t.Value.Type() == BinXmlType:
			return fmt.Errorf("%w: binary xml value was not expanded", ErrBadParserState)
		case b.attr != nil:
			b.parts = append(b.parts, t.Value)
		case b.current != nil:
			return fmt.Errorf("%w: value inside element %s start", ErrBadParserState, b.current.Name)
		default:
			b.emit(ModelEvent{Kind: ValueEvent, Value: t.Value})
		}

	case BinXMLCloseStartElementTag:
		b.flushAttribute()
		if b.current == nil {
			return fmt.Errorf("%w: close start tag without element", ErrBadParserState)
		}
		b.openCurrent()

	case BinXMLCloseEmptyElementTag:
		b.flushAttribute()
		if b.current == nil {
			return fmt.Errorf("%w: close empty tag without element", ErrBadParserState)
		}
		elt := b.current
		b.current = nil
		b.emit(ModelEvent{Kind: OpenElementEvent, Element: elt})
		b.emit(ModelEvent{Kind: CloseElementEvent, Element: elt})

	case BinXMLEndElementTag:
		if b.current != nil {
			return fmt.Errorf("%w: end tag inside element %s start", ErrBadParserState, b.current.Name)
		}
		if len(b.stack) == 0 {
			return fmt.Errorf("%w: end tag without open element", ErrUnbalancedElements)
		}
		elt := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		b.emit(ModelEvent{Kind: CloseElementEvent, Element: elt})

	case PITarget:
		if b.piTarget != nil {
			log.Warnf("processing instruction %s without data, discarded", b.piTarget)
		}
		b.piTarget = t.Name

	case PIData:
		if b.piTarget == nil {
			return fmt.Errorf("%w: processing instruction data without target", ErrBadParserState)
		}
		b.emit(ModelEvent{
			Kind: ProcessingInstructionEvent,
			PI:   &XMLProcessingInstruction{Target: b.piTarget.String(), Data: t.Text},
		})
		b.piTarget = nil

	case EntityReference:
		switch {
		case b.attr != nil:
			b.parts = append(b.parts, ValueString{resolveEntity(t.Name.String())})
			return nil
		case b.current != nil:
			log.Warnf("entity reference %s inside element %s start, discarded", t.Name, b.current.Name)
			return nil
		}
		b.emit(ModelEvent{Kind: EntityRefEvent, EntityRef: t.Name.String()})

	case CDATASection, CharEntityRef:
		return fmt.Errorf("%w: %T", ErrUnimplementedToken, tok)

	case TemplateInstance, Substitution:
		return fmt.Errorf("%w: %T was not expanded", ErrBadParserState, tok)

	default:
		return fmt.Errorf("%w: unexpected %T", ErrBadParserState, tok)
	}
	return nil
}

func (b *modelBuilder) finish() error {
	b.flushAttribute()
	if b.current != nil {
		return fmt.Errorf("%w: element %s start is not closed", ErrBadParserState, b.current.Name)
	}
	if len(b.stack) > 0 {
		return fmt.Errorf("%w: %d elements left open", ErrUnbalancedElements, len(b.stack))
	}
	if b.piTarget != nil {
		log.Warnf("processing instruction %s without data, discarded", b.piTarget)
	}
	return nil
}

// BuildRecordModel turns an expanded token stream into a balanced sequence
// of model events, always enclosed by StartOfStream and EndOfStream. On
// error the events built so far are returned.
func BuildRecordModel(tokens []Token) ([]ModelEvent, error) {
	b := &modelBuilder{events: make([]ModelEvent, 0, len(tokens)+2)}
	b.emit(ModelEvent{Kind: StartOfStreamEvent})
	for _, tok := range tokens {
		if err := b.process(tok); err != nil {
			return b.events, err
		}
	}
	if err := b.finish(); err != nil {
		return b.events, err
	}
	b.emit(ModelEvent{Kind: EndOfStreamEvent})
	return b.events, nil
}
