package evtx

import (
	"fmt"
	"strings"
)

// Node is an element of a record with its text values and its children, the
// root node of a record has no element
type Node struct {
	Element  *XMLElement
	Values   []Value
	Children []*Node
}

func (n *Node) Name() string {
	if n.Element == nil {
		return ""
	}
	return n.Element.Name
}

// MapBuilder is a Visitor building a Node tree, later turned into a GoEvtxMap
type MapBuilder struct {
	root  *Node
	stack []*Node
}

func NewMapBuilder() *MapBuilder {
	return &MapBuilder{}
}

func (mb *MapBuilder) Root() *Node {
	return mb.root
}

func (mb *MapBuilder) top() *Node {
	return mb.stack[len(mb.stack)-1]
}

func (mb *MapBuilder) VisitStartOfStream() error {
	mb.root = &Node{}
	mb.stack = append(mb.stack[:0], mb.root)
	return nil
}

func (mb *MapBuilder) VisitOpenStartElement(e *XMLElement) error {
	n := &Node{Element: e}
	parent := mb.top()
	parent.Children = append(parent.Children, n)
	mb.stack = append(mb.stack, n)
	return nil
}

func (mb *MapBuilder) VisitCloseElement(e *XMLElement) error {
	if len(mb.stack) < 2 {
		return fmt.Errorf("%w: closing %s", ErrUnbalancedElements, e.Name)
	}
	mb.stack = mb.stack[:len(mb.stack)-1]
	return nil
}

func (mb *MapBuilder) VisitCharacters(v Value) error {
	n := mb.top()
	n.Values = append(n.Values, v)
	return nil
}

func (mb *MapBuilder) VisitProcessingInstruction(*XMLProcessingInstruction) error {
	return nil
}

func (mb *MapBuilder) VisitEntityReference(name string) error {
	return mb.VisitCharacters(ValueString{resolveEntity(name)})
}

func (mb *MapBuilder) VisitEndOfStream() error {
	if len(mb.stack) != 1 {
		return fmt.Errorf("%w: %d elements left open", ErrUnbalancedElements, len(mb.stack)-1)
	}
	return nil
}

// GoEvtxMap converts the tree built, the xmlns attribute of the root
// element is dropped
func (mb *MapBuilder) GoEvtxMap() *GoEvtxMap {
	if mb.root == nil {
		return &GoEvtxMap{}
	}
	gem := NodeToGoEvtx(mb.root)
	gem.DelXmlns()
	return &gem
}

func nodeValue(vals []Value) interface{} {
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return vals[0].Repr()
	}
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(v.String())
	}
	return b.String()
}

// NodeToGoEvtx converts a node into a map. Elements holding only a Name
// attribute and a value, like EventData/Data, become Name: Value entries and
// elements holding only a value become Element: Value entries.
func NodeToGoEvtx(n *Node) GoEvtxMap {
	if n.Element == nil && len(n.Children) == 1 {
		c := n.Children[0]
		return GoEvtxMap{c.Name(): NodeToGoEvtx(c)}
	}

	m := make(GoEvtxMap, len(n.Children))
	for i, c := range n.Children {
		node := NodeToGoEvtx(c)
		switch {
		case node.HasKeys("Name") && len(node) == 1:
			m[fmt.Sprint(node["Name"])] = ""
		case node.HasKeys("Name", "Value") && len(node) == 2:
			m[fmt.Sprint(node["Name"])] = node["Value"]
		default:
			name := c.Name()
			if _, ok := m[name]; ok {
				name = fmt.Sprintf("%s%d", name, i)
			}
			if node.HasKeys("Value") && len(node) == 1 {
				m[name] = node["Value"]
			} else {
				m[name] = node
			}
		}
	}

	if v := nodeValue(n.Values); v != nil {
		m["Value"] = v
	}
	if n.Element != nil {
		for _, a := range n.Element.Attributes {
			if r := a.Value.Repr(); r != nil {
				m[a.Name] = r
			}
		}
	}
	return m
}
