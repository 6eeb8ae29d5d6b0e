package evtx

import (
	"fmt"
)

// Visitor receives the events of a record model in order, any error stops
// the walk and is returned to the caller
type Visitor interface {
	VisitStartOfStream() error
	VisitOpenStartElement(e *XMLElement) error
	VisitCloseElement(e *XMLElement) error
	VisitCharacters(v Value) error
	VisitProcessingInstruction(pi *XMLProcessingInstruction) error
	VisitEntityReference(name string) error
	VisitEndOfStream() error
}

func VisitModel(events []ModelEvent, v Visitor) error {
	for _, e := range events {
		var err error
		switch e.Kind {
		case StartOfStreamEvent:
			err = v.VisitStartOfStream()
		case OpenElementEvent:
			err = v.VisitOpenStartElement(e.Element)
		case CloseElementEvent:
			err = v.VisitCloseElement(e.Element)
		case ValueEvent:
			err = v.VisitCharacters(e.Value)
		case ProcessingInstructionEvent:
			err = v.VisitProcessingInstruction(e.PI)
		case EntityRefEvent:
			err = v.VisitEntityReference(e.EntityRef)
		case EndOfStreamEvent:
			err = v.VisitEndOfStream()
		default:
			err = fmt.Errorf("%w: unknown model event %s", ErrBadParserState, e.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseTokens expands tokens, builds the record model and walks it with v.
// Nothing is visited when the model cannot be built.
func ParseTokens(tokens []Token, ctx *ParsingContext, v Visitor) error {
	expanded, err := ExpandTemplates(tokens, ctx)
	if err != nil {
		return err
	}
	events, err := BuildRecordModel(expanded)
	if err != nil {
		return err
	}
	return VisitModel(events, v)
}

// entityValues resolves the predefined XML entities
var entityValues = map[string]string{
	"amp":  "&",
	"lt":   "<",
	"gt":   ">",
	"quot": "\"",
	"apos": "'",
}

func resolveEntity(name string) string {
	if s, ok := entityValues[name]; ok {
		return s
	}
	return "&" + name + ";"
}
