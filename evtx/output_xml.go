package evtx

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
)

const xmlDeclaration = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// XMLOutput renders a record model as XML text
type XMLOutput struct {
	w *bufio.Writer
	// Indent is written once per nesting level before each element when set
	Indent string
	depth  int
	inline bool
	// the last tag written is an opening one
	opened bool
}

func NewXMLOutput(w io.Writer) *XMLOutput {
	return &XMLOutput{w: bufio.NewWriter(w)}
}

func (x *XMLOutput) newline() {
	if x.Indent == "" || x.inline {
		return
	}
	x.w.WriteByte('\n')
	for i := 0; i < x.depth; i++ {
		x.w.WriteString(x.Indent)
	}
}

func (x *XMLOutput) VisitStartOfStream() error {
	x.depth, x.inline, x.opened = 0, false, false
	_, err := x.w.WriteString(xmlDeclaration)
	return err
}

func (x *XMLOutput) VisitOpenStartElement(e *XMLElement) error {
	if x.depth > 0 {
		x.newline()
	}
	x.w.WriteByte('<')
	x.w.WriteString(e.Name)
	for _, a := range e.Attributes {
		fmt.Fprintf(x.w, " %s=\"", a.Name)
		if err := xml.EscapeText(x.w, []byte(a.Value.String())); err != nil {
			return err
		}
		x.w.WriteByte('"')
	}
	_, err := x.w.WriteString(">")
	x.depth++
	x.inline, x.opened = false, true
	return err
}

func (x *XMLOutput) VisitCloseElement(e *XMLElement) error {
	x.depth--
	if !x.opened {
		x.newline()
	}
	x.inline, x.opened = false, false
	_, err := fmt.Fprintf(x.w, "</%s>", e.Name)
	return err
}

func (x *XMLOutput) VisitCharacters(v Value) error {
	x.inline, x.opened = true, false
	return xml.EscapeText(x.w, []byte(v.String()))
}

func (x *XMLOutput) VisitProcessingInstruction(pi *XMLProcessingInstruction) error {
	_, err := fmt.Fprintf(x.w, "<?%s %s?>", pi.Target, pi.Data)
	return err
}

func (x *XMLOutput) VisitEntityReference(name string) error {
	x.inline, x.opened = true, false
	_, err := fmt.Fprintf(x.w, "&%s;", name)
	return err
}

func (x *XMLOutput) VisitEndOfStream() error {
	if x.Indent != "" {
		x.w.WriteByte('\n')
	}
	return x.w.Flush()
}
