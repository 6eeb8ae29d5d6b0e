package evtx

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

const (
	JSONAttributesKey = "#attributes"
	JSONTextKey       = "#text"
)

type jsonFrame struct {
	elt         *XMLElement
	obj         *fastjson.Value
	text        []Value
	hasChildren bool
}

// JSONOutput renders a record model as a JSON document. Attributes go under
// JSONAttributesKey, the text of an element having attributes or children
// under JSONTextKey and an element with text only becomes a bare value.
// Repeated element names get a numeric suffix. The document is valid until
// the next record is visited.
type JSONOutput struct {
	arena fastjson.Arena
	root  *fastjson.Value
	stack []*jsonFrame
	buf   []byte
}

func NewJSONOutput() *JSONOutput {
	return &JSONOutput{}
}

func (j *JSONOutput) Bytes() []byte {
	return j.buf
}

func (j *JSONOutput) String() string {
	return string(j.buf)
}

func (j *JSONOutput) object(f *jsonFrame) *fastjson.Value {
	if f.obj == nil {
		f.obj = j.arena.NewObject()
	}
	return f.obj
}

func (j *JSONOutput) VisitStartOfStream() error {
	j.arena.Reset()
	j.root = j.arena.NewObject()
	j.stack = j.stack[:0]
	j.buf = j.buf[:0]
	return nil
}

func (j *JSONOutput) VisitOpenStartElement(e *XMLElement) error {
	if len(j.stack) > 0 {
		j.stack[len(j.stack)-1].hasChildren = true
	}
	f := &jsonFrame{elt: e}
	if len(e.Attributes) > 0 {
		attrs := j.arena.NewObject()
		for _, a := range e.Attributes {
			attrs.Set(a.Name, j.value(a.Value))
		}
		j.object(f).Set(JSONAttributesKey, attrs)
	}
	j.stack = append(j.stack, f)
	return nil
}

func (j *JSONOutput) VisitCloseElement(e *XMLElement) error {
	if len(j.stack) == 0 {
		return fmt.Errorf("%w: closing %s", ErrUnbalancedElements, e.Name)
	}
	f := j.stack[len(j.stack)-1]
	j.stack = j.stack[:len(j.stack)-1]

	var v *fastjson.Value
	if f.obj == nil && !f.hasChildren {
		v = j.text(f.text)
	} else {
		v = j.object(f)
		if len(f.text) > 0 {
			v.Set(JSONTextKey, j.text(f.text))
		}
	}

	parent := j.root
	if len(j.stack) > 0 {
		parent = j.object(j.stack[len(j.stack)-1])
	}
	setUnique(parent, e.Name, v)
	return nil
}

func (j *JSONOutput) VisitCharacters(v Value) error {
	if len(j.stack) == 0 {
		// text outside of the root element
		return nil
	}
	f := j.stack[len(j.stack)-1]
	f.text = append(f.text, v)
	return nil
}

func (j *JSONOutput) VisitProcessingInstruction(*XMLProcessingInstruction) error {
	return nil
}

func (j *JSONOutput) VisitEntityReference(name string) error {
	return j.VisitCharacters(ValueString{resolveEntity(name)})
}

func (j *JSONOutput) VisitEndOfStream() error {
	j.buf = j.root.MarshalTo(j.buf[:0])
	return nil
}

func (j *JSONOutput) text(vals []Value) *fastjson.Value {
	switch len(vals) {
	case 0:
		return j.arena.NewNull()
	case 1:
		return j.value(vals[0])
	}
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(v.String())
	}
	return j.arena.NewString(b.String())
}

func (j *JSONOutput) value(v Value) *fastjson.Value {
	switch t := v.(type) {
	case ValueNull:
		return j.arena.NewNull()
	case ValueBool:
		if t.Value {
			return j.arena.NewTrue()
		}
		return j.arena.NewFalse()
	case ValueInt8, ValueUInt8, ValueInt16, ValueUInt16, ValueInt32, ValueUInt32, ValueInt64, ValueUInt64:
		return j.arena.NewNumberString(v.String())
	case ValueReal32:
		return j.float(float64(t.Value), v.String())
	case ValueReal64:
		return j.float(t.Value, v.String())
	case ValueArray:
		a := j.arena.NewArray()
		for i, it := range t.Items {
			a.SetArrayItem(i, j.value(it))
		}
		return a
	}
	return j.arena.NewString(v.String())
}

func (j *JSONOutput) float(f float64, s string) *fastjson.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return j.arena.NewString(s)
	}
	return j.arena.NewNumberString(s)
}

// setUnique adds key to obj, renaming it key_1, key_2... when it is taken
func setUnique(obj *fastjson.Value, key string, v *fastjson.Value) {
	name := key
	for i := 1; obj.Get(name) != nil; i++ {
		name = key + "_" + strconv.Itoa(i)
	}
	obj.Set(name, v)
}
