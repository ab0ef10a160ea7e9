// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package normalize

import (
	"fmt"
	"strings"
)

// arrayParser reads a Postgres array literal such as {1,"a b",NULL,{2,3}}.
type arrayParser struct {
	input string
	pos   int
	elem  func(string) (any, error)
}

// parseArray parses an array literal, converting every non NULL element
// with elem.
func parseArray(s string, elem func(string) (any, error)) (any, error) {
	p := &arrayParser{input: s, elem: elem}
	// Skip dimension decoration, e.g. [1:2]={a,b}.
	if strings.HasPrefix(s, "[") {
		i := strings.Index(s, "=")
		if i < 0 {
			return nil, p.errorf("missing '=' after array dimensions")
		}
		p.pos = i + 1
	}
	v, err := p.parseArray()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected text after array")
	}
	return v, nil
}

func (p *arrayParser) errorf(format string, args ...any) error {
	return fmt.Errorf("cannot parse array %q at column %d: %s", p.input, p.pos+1, fmt.Sprintf(format, args...))
}

func (p *arrayParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *arrayParser) parseArray() ([]any, error) {
	if p.peek() != '{' {
		return nil, p.errorf("expected '{'")
	}
	p.pos++
	result := []any{}
	if p.peek() == '}' {
		p.pos++
		return result, nil
	}
	for {
		v, err := p.parseElement()
		if err != nil {
			return nil, err
		}
		result = append(result, v)
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return result, nil
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *arrayParser) parseElement() (any, error) {
	switch p.peek() {
	case '{':
		return p.parseArray()
	case '"':
		s, err := p.parseQuoted()
		if err != nil {
			return nil, err
		}
		return p.elem(s)
	}
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ',' || c == '}' {
			break
		}
		p.pos++
	}
	s := strings.TrimSpace(p.input[start:p.pos])
	if s == "" {
		return nil, p.errorf("empty element")
	}
	if strings.EqualFold(s, "NULL") {
		return nil, nil
	}
	return p.elem(s)
}

func (p *arrayParser) parseQuoted() (string, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.pos == len(p.input) {
				return "", p.errorf("unfinished escape")
			}
			b.WriteByte(p.input[p.pos])
		case '"':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
		p.pos++
	}
	return "", p.errorf("missing closing quote")
}
