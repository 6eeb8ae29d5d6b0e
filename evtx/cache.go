package evtx

import (
	"rawsec-binxml/log"
)

// StringCache maps chunk offsets to the names stored there. It is populated
// once from the chunk header bucket heads and only read afterwards.
type StringCache struct {
	names map[Offset]*Name
}

func NewStringCache() *StringCache {
	return &StringCache{names: make(map[Offset]*Name)}
}

// Populate decodes every name reachable from the bucket heads. A name that
// cannot be decoded ends its chain and is left out of the cache.
func (sc *StringCache) Populate(data []byte, offsets []Offset) {
	for _, head := range offsets {
		for offset := head; offset > 0; {
			if _, ok := sc.names[offset]; ok {
				break
			}
			n, err := NameAt(data, int64(offset))
			if err != nil {
				log.Debugf("string cache: %s", err)
				break
			}
			sc.names[offset] = n
			offset = n.NextOffset
		}
	}
}

func (sc *StringCache) Get(offset Offset) (*Name, bool) {
	if sc == nil {
		return nil, false
	}
	n, ok := sc.names[offset]
	return n, ok
}

func (sc *StringCache) Len() int {
	if sc == nil {
		return 0
	}
	return len(sc.names)
}

// TemplateCache maps chunk offsets to decoded template definitions. The
// definitions are shared by all the records of the chunk.
type TemplateCache struct {
	templates map[Offset]*TemplateDefinition
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{templates: make(map[Offset]*TemplateDefinition)}
}

// Populate decodes every template definition reachable from the bucket
// heads. Definitions failing to decode are missing from the cache and get
// decoded on demand when a record uses them.
func (tc *TemplateCache) Populate(ctx *ParsingContext, offsets []Offset) {
	for _, head := range offsets {
		for offset := head; offset > 0; {
			if _, ok := tc.templates[offset]; ok {
				break
			}
			td, err := ctx.TemplateAt(offset)
			if err != nil {
				log.Debugf("template cache: %s", err)
				break
			}
			tc.templates[offset] = td
			offset = td.Header.NextOffset
		}
	}
}

func (tc *TemplateCache) Get(offset Offset) (*TemplateDefinition, bool) {
	if tc == nil {
		return nil, false
	}
	td, ok := tc.templates[offset]
	return td, ok
}

func (tc *TemplateCache) Len() int {
	if tc == nil {
		return 0
	}
	return len(tc.templates)
}

// Offsets returns the offsets of the cached definitions, in no particular order
func (tc *TemplateCache) Offsets() []Offset {
	offsets := make([]Offset, 0, tc.Len())
	if tc == nil {
		return offsets
	}
	for o := range tc.templates {
		offsets = append(offsets, o)
	}
	return offsets
}
