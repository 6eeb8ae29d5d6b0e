package evtx

import (
	"fmt"

	"github.com/google/uuid"
)

// Token is one deserialized binary XML token
type Token interface {
	isToken()
}

type FragmentHeader struct {
	MajVersion uint8
	MinVersion uint8
	Flags      uint8
}

// TemplateRef points to a template definition and carries the values
// replacing its substitutions
type TemplateRef struct {
	TemplateID       uint32
	DefinitionOffset Offset
	Substitutions    []Token
}

type TemplateInstance struct {
	Ref TemplateRef
}

type ElementStart struct {
	DependencyID uint16
	DataSize     uint32
	Name         *Name
}

type AttributeList struct {
	Size uint32
}

type Attribute struct {
	Name *Name
}

type BinXMLCloseStartElementTag struct{}

type BinXMLCloseEmptyElementTag struct{}

type BinXMLEndElementTag struct{}

type BinXMLValue struct {
	Value Value
}

type CDATASection struct {
	Text string
}

type CharEntityRef struct {
	Value uint16
}

type EntityReference struct {
	Name *Name
}

type PITarget struct {
	Name *Name
}

type PIData struct {
	Text string
}

// Substitution is a placeholder of a template definition
type Substitution struct {
	Index     uint16
	ValueType ValueType
	Optional  bool
	// an optional substitution of a Null value produces nothing
	Ignore bool
}

type BinXMLEOF struct{}

type StartOfStream struct{}

func (FragmentHeader) isToken()             {}
func (TemplateInstance) isToken()           {}
func (ElementStart) isToken()               {}
func (AttributeList) isToken()              {}
func (Attribute) isToken()                  {}
func (BinXMLCloseStartElementTag) isToken() {}
func (BinXMLCloseEmptyElementTag) isToken() {}
func (BinXMLEndElementTag) isToken()        {}
func (BinXMLValue) isToken()                {}
func (CDATASection) isToken()               {}
func (CharEntityRef) isToken()              {}
func (EntityReference) isToken()            {}
func (PITarget) isToken()                   {}
func (PIData) isToken()                     {}
func (Substitution) isToken()               {}
func (BinXMLEOF) isToken()                  {}
func (StartOfStream) isToken()              {}

func (es ElementStart) String() string {
	return fmt.Sprintf("<%s>", es.Name)
}

func (s Substitution) String() string {
	return fmt.Sprintf("Substitution(%d, %s, optional=%t)", s.Index, s.ValueType, s.Optional)
}

type TemplateDefinitionHeader struct {
	NextOffset uint32
	ID         [16]byte
	DataSize   uint32
}

// TemplateDefinition is a decoded template body. Definitions held by a
// TemplateCache are shared by every record of the chunk and must be treated
// as read-only.
type TemplateDefinition struct {
	Offset Offset
	Header TemplateDefinitionHeader
	Tokens []Token
}

func (td *TemplateDefinition) GUID() uuid.UUID {
	return GUIDFromBytes(td.Header.ID)
}

func (td *TemplateDefinition) String() string {
	return fmt.Sprintf("Template %s at 0x%x (%d tokens)", GUIDString(td.GUID()), td.Offset, len(td.Tokens))
}

// NewValueToken wraps a value into a token
func NewValueToken(v Value) Token {
	return BinXMLValue{Value: v}
}
