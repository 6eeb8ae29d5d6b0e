package evtx

import (
	"bytes"
	"fmt"
)

type EventHeader struct {
	Magic     [4]byte
	Size      uint32
	ID        uint64
	Timestamp FileTime
}

func (h *EventHeader) Validate() error {
	if string(h.Magic[:]) != EventMagic {
		return fmt.Errorf("%w: bad event magic %q", ErrInvalidEvent, h.Magic)
	}
	if h.Size >= ChunkSize {
		return fmt.Errorf("%w: too big event", ErrInvalidEvent)
	}
	// header, at least one token and the size copy
	if h.Size < EventHeaderSize+4 {
		return fmt.Errorf("%w: too small event", ErrInvalidEvent)
	}
	return nil
}

// Event is a record of a chunk with its binary XML tokens, templates are
// expanded when one of the rendering methods is called
type Event struct {
	Offset int64
	Header EventHeader
	Tokens []Token
	chunk  *Chunk
}

func (e *Event) IsValid() bool {
	return e.Header.Validate() == nil
}

func (e *Event) Expand() ([]Token, error) {
	return ExpandTemplates(e.Tokens, e.chunk.ctx)
}

func (e *Event) Model() ([]ModelEvent, error) {
	tokens, err := e.Expand()
	if err != nil {
		return nil, err
	}
	return BuildRecordModel(tokens)
}

// Visit builds the record model once and walks it with every visitor
func (e *Event) Visit(visitors ...Visitor) error {
	events, err := e.Model()
	if err != nil {
		return err
	}
	for _, v := range visitors {
		if err := VisitModel(events, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Event) XML() (string, error) {
	var buf bytes.Buffer
	out := NewXMLOutput(&buf)
	out.Indent = "  "
	if err := e.Visit(out); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *Event) JSON() ([]byte, error) {
	out := NewJSONOutput()
	if err := e.Visit(out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *Event) GoEvtxMap() (*GoEvtxMap, error) {
	mb := NewMapBuilder()
	if err := e.Visit(mb); err != nil {
		return nil, err
	}
	return mb.GoEvtxMap(), nil
}

func (e *Event) String() string {
	return fmt.Sprintf(
		"Magic: %q\n"+
			"Size: %d\n"+
			"ID: %d\n"+
			"Timestamp: %s\n",
		e.Header.Magic,
		e.Header.Size,
		e.Header.ID,
		e.Header.Timestamp)
}
