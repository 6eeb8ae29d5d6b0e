package evtx

import (
	"fmt"

	"rawsec-binxml/log"
)

// templateBody is a definition either borrowed from the chunk template cache
// or decoded for a single record. Both are read the same way and never
// written to.
type templateBody struct {
	def    *TemplateDefinition
	shared bool
}

func (ctx *ParsingContext) resolveTemplate(offset Offset) (templateBody, error) {
	if td, ok := ctx.templates.Get(offset); ok {
		return templateBody{def: td, shared: true}, nil
	}
	log.Debugf("template at 0x%x missing from cache, decoding it", offset)
	td, err := ctx.TemplateAt(offset)
	if err != nil {
		return templateBody{}, err
	}
	return templateBody{def: td, shared: false}, nil
}

// ExpandStats tells how the template definitions of an expansion were found
type ExpandStats struct {
	CacheHits int
	OnDemand  int
}

type expandFrame struct {
	tokens []Token
	pos    int
	// values of the template instance being expanded
	subs   []Token
	inside bool
}

// ExpandTemplates inlines template instances and nested binary XML values.
// The result only holds structural and value tokens.
func ExpandTemplates(tokens []Token, ctx *ParsingContext) ([]Token, error) {
	out, _, err := ExpandTemplatesStats(tokens, ctx)
	return out, err
}

func ExpandTemplatesStats(tokens []Token, ctx *ParsingContext) ([]Token, ExpandStats, error) {
	var stats ExpandStats
	out := make([]Token, 0, len(tokens))
	maxDepth := ctx.settings.maxDepth()
	stack := []*expandFrame{{tokens: tokens}}

	push := func(f *expandFrame) error {
		if len(stack) > maxDepth {
			return fmt.Errorf("%w: %d nested templates or values", ErrMaxDepth, len(stack))
		}
		stack = append(stack, f)
		return nil
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.pos >= len(top.tokens) {
			stack = stack[:len(stack)-1]
			continue
		}
		tok := top.tokens[top.pos]
		top.pos++

		switch t := tok.(type) {
		case FragmentHeader, BinXMLEOF:
			// stream framing

		case Substitution:
			if t.Ignore {
				continue
			}
			var sub Token = BinXMLValue{ValueNull{}}
			if top.inside && int(t.Index) < len(top.subs) {
				sub = top.subs[t.Index]
			}
			if err := push(&expandFrame{tokens: []Token{sub}}); err != nil {
				return out, stats, err
			}

		case TemplateInstance:
			body, err := ctx.resolveTemplate(t.Ref.DefinitionOffset)
			if err != nil {
				return out, stats, err
			}
			if body.shared {
				stats.CacheHits++
			} else {
				stats.OnDemand++
			}
			f := &expandFrame{tokens: body.def.Tokens, subs: t.Ref.Substitutions, inside: true}
			if err := push(f); err != nil {
				return out, stats, err
			}

		case BinXMLValue:
			if bx, ok := t.Value.(ValueBinXml); ok {
				if err := push(&expandFrame{tokens: bx.Tokens}); err != nil {
					return out, stats, err
				}
				continue
			}
			out = append(out, t)

		default:
			out = append(out, tok)
		}
	}
	return out, stats, nil
}
