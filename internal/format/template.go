package format

import (
	"fmt"
	"strings"
)

// Template is a parsed display template: literal text interleaved with
// expression placeholders and conditional blocks.
//
//	"{h}:{m}"
//	"vol {volume.level}%{if volume.muted} (muted){end}"
type Template struct {
	segs []segment
	refs []string
}

type segment interface {
	render(sb *strings.Builder, env Env)
	collectRefs(out *[]string)
}

// Parse parses a template string. Errors are configuration errors; a
// template that parses once never fails at render time.
func Parse(src string) (*Template, error) {
	segs, rest, err := parseSegments(src, false)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", src, err)
	}
	if rest != "" {
		return nil, fmt.Errorf("template %q: unexpected %q", src, rest)
	}
	t := &Template{segs: segs}
	for _, s := range segs {
		s.collectRefs(&t.refs)
	}
	return t, nil
}

// MustParse is Parse for templates known good at compile time, used in tests
// and built-in defaults.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Render evaluates the template against env.
func (t *Template) Render(env Env) string {
	var sb strings.Builder
	for _, s := range t.segs {
		s.render(&sb, env)
	}
	return sb.String()
}

// Refs returns the module names referenced anywhere in the template,
// deduplicated in first-seen order.
func (t *Template) Refs() []string {
	return t.refs
}

type literalSeg struct{ text string }

func (s literalSeg) render(sb *strings.Builder, _ Env) { sb.WriteString(s.text) }
func (s literalSeg) collectRefs(*[]string)             {}

type exprSeg struct{ expr *Expr }

func (s exprSeg) render(sb *strings.Builder, env Env) { sb.WriteString(s.expr.Eval(env).String()) }
func (s exprSeg) collectRefs(out *[]string) {
	for _, r := range s.expr.Refs() {
		addRef(out, r)
	}
}

type condSeg struct {
	cond *Expr
	then []segment
	els  []segment
}

func (s condSeg) render(sb *strings.Builder, env Env) {
	branch := s.els
	if s.cond.Eval(env).Truthy() {
		branch = s.then
	}
	for _, seg := range branch {
		seg.render(sb, env)
	}
}

func (s condSeg) collectRefs(out *[]string) {
	for _, r := range s.cond.Refs() {
		addRef(out, r)
	}
	for _, seg := range s.then {
		seg.collectRefs(out)
	}
	for _, seg := range s.els {
		seg.collectRefs(out)
	}
}

func addRef(out *[]string, r string) {
	for _, have := range *out {
		if have == r {
			return
		}
	}
	*out = append(*out, r)
}

// parseSegments consumes src until EOF or, when inBlock is set, until an
// {else} or {end} marker. It returns the parsed segments and the unconsumed
// remainder starting at the marker.
func parseSegments(src string, inBlock bool) ([]segment, string, error) {
	var segs []segment
	for len(src) > 0 {
		brace := strings.IndexByte(src, '{')
		if brace < 0 {
			if i := strings.Index(src, "}}"); i >= 0 {
				segs = append(segs, literalSeg{text: src[:i] + "}"})
				src = src[i+2:]
				continue
			}
			segs = append(segs, literalSeg{text: src})
			return segs, "", nil
		}
		if brace > 0 {
			lit := src[:brace]
			if i := strings.Index(lit, "}}"); i >= 0 {
				segs = append(segs, literalSeg{text: lit[:i] + "}"})
				src = src[i+2:]
				continue
			}
			segs = append(segs, literalSeg{text: lit})
			src = src[brace:]
		}
		// src now starts with '{'
		if strings.HasPrefix(src, "{{") {
			segs = append(segs, literalSeg{text: "{"})
			src = src[2:]
			continue
		}
		close := strings.IndexByte(src, '}')
		if close < 0 {
			return nil, "", fmt.Errorf("unclosed '{'")
		}
		inner := src[1:close]
		rest := src[close+1:]
		switch {
		case inner == "end" || inner == "else":
			if !inBlock {
				return nil, "", fmt.Errorf("stray {%s}", inner)
			}
			return segs, src, nil
		case strings.HasPrefix(inner, "if "):
			cond, err := ParseExpr(strings.TrimSpace(inner[3:]))
			if err != nil {
				return nil, "", err
			}
			then, rem, err := parseSegments(rest, true)
			if err != nil {
				return nil, "", err
			}
			var els []segment
			if strings.HasPrefix(rem, "{else}") {
				els, rem, err = parseSegments(rem[len("{else}"):], true)
				if err != nil {
					return nil, "", err
				}
			}
			if !strings.HasPrefix(rem, "{end}") {
				return nil, "", fmt.Errorf("missing {end} for {if %s}", strings.TrimSpace(inner[3:]))
			}
			segs = append(segs, condSeg{cond: cond, then: then, els: els})
			src = rem[len("{end}"):]
		default:
			expr, err := ParseExpr(inner)
			if err != nil {
				return nil, "", err
			}
			segs = append(segs, exprSeg{expr: expr})
			src = rest
		}
	}
	if inBlock {
		return nil, "", fmt.Errorf("missing {end}")
	}
	return segs, "", nil
}
