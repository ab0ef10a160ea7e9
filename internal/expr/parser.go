// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
)

func NewParser(d *dialect.Dialect) *Parser {
	return &Parser{dialect: d}
}

type Parser struct {
	dialect *dialect.Dialect
	input   string
	pos     int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// prevExprEnd is the value of pos when we last finished parsing a
	// marker.
	prevExprEnd int
	// currentExprStart is the value of pos just before we started parsing the
	// marker under pos. We maintain currentExprStart >= prevExprEnd.
	currentExprStart int
	// parts are the output of the parser. Parts are added as they are
	// parsed.
	parts []queryPart
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
}

// ParsedExpr is a query template split into verbatim text and markers.
type ParsedExpr struct {
	dialect *dialect.Dialect
	// query is the template as given by the caller.
	query string
	parts []queryPart
}

// String returns a textual representation of the parts for testing.
func (pe *ParsedExpr) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, p := range pe.parts {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Query returns the query template as given by the caller.
func (pe *ParsedExpr) Query() string {
	return pe.query
}

// Markers returns the markers of the query in order of appearance.
func (pe *ParsedExpr) Markers() []Marker {
	var ms []Marker
	for _, p := range pe.parts {
		if m, ok := p.(*markerPart); ok {
			ms = append(ms, Marker{
				Role:   m.role,
				LOB:    m.lob,
				Size:   m.size,
				Name:   m.name,
				Pos:    m.pos,
				InList: m.inList,
			})
		}
	}
	return ms
}

// Parse takes a query template and returns a ParsedExpr.
func (p *Parser) Parse(input string) (pe *ParsedExpr, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse expression: %s", err)
		}
	}()

	query := input
	if p.dialect.WrapBlocks {
		input = wrapBlock(input)
	}
	p.init(input)

	for {
		if err := p.advanceToNextMarker(); err != nil {
			return nil, err
		}

		p.currentExprStart = p.pos

		if p.pos == len(p.input) {
			break
		}

		if m, ok, err := p.parseMarker(); err != nil {
			return nil, err
		} else if ok {
			p.add(m)
			continue
		}

		// No marker found, advance the parser. This prevents
		// advanceToNextMarker finding the same char again.
		p.advanceChar()
	}

	// Add any remaining unparsed string input to the parser.
	p.add(nil)

	if err := p.checkNames(); err != nil {
		return nil, err
	}
	return &ParsedExpr{dialect: p.dialect, query: query, parts: p.parts}, nil
}

// wrapBlock wraps a ';' terminated statement that is not already an
// anonymous block in BEGIN ... END;.
func wrapBlock(input string) string {
	s := strings.TrimSpace(input)
	if strings.HasSuffix(s, ";") && !hasPrefixFold(s, "BEGIN") {
		return "BEGIN " + s + " END;"
	}
	return input
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.prevExprEnd = 0
	p.currentExprStart = 0
	p.parts = []queryPart{}
	p.lineNum = 1
	p.lineStart = 0
	p.advanceChar()
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// prevChar returns the rune before pos, or 0 at the start of input.
func (p *Parser) prevChar() rune {
	if p.pos == 0 {
		return 0
	}
	r, _ := utf8.DecodeLastRuneInString(p.input[:p.pos])
	return r
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	} else {
		return fmt.Errorf("column %d: %w", column, err)
	}
}

// A checkpoint struct for saving parser state to restore later. We only use a
// checkpoint within an attempted parsing of a marker, not at a higher level
// since we don't keep track of the parts in the checkpoint.
type checkpoint struct {
	parser           *Parser
	pos              int
	nextPos          int
	char             rune
	prevExprEnd      int
	currentExprStart int
	parts            []queryPart
	lineNum          int
	lineStart        int
}

// save takes a snapshot of the state of the parser and returns a pointer to a
// checkpoint that represents it.
func (p *Parser) save() *checkpoint {
	return &checkpoint{
		parser:           p,
		pos:              p.pos,
		nextPos:          p.nextPos,
		char:             p.char,
		prevExprEnd:      p.prevExprEnd,
		currentExprStart: p.currentExprStart,
		parts:            p.parts,
		lineNum:          p.lineNum,
		lineStart:        p.lineStart,
	}
}

// restore sets the internal state of the parser to the values stored in the
// checkpoint.
func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.prevExprEnd = cp.prevExprEnd
	cp.parser.currentExprStart = cp.currentExprStart
	cp.parser.parts = cp.parts
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// add pushes the parsed marker to the list of parts along with the bypass
// chunk that stretches from the end of the previous marker to the beginning
// of this marker.
func (p *Parser) add(part queryPart) {
	if p.prevExprEnd != p.currentExprStart {
		p.parts = append(p.parts,
			&bypassPart{p.input[p.prevExprEnd:p.currentExprStart]})
	}

	if part != nil {
		p.parts = append(p.parts, part)
	}

	// Save this position at the end of the marker.
	p.prevExprEnd = p.pos
	// Ensure that currentExprStart >= prevExprEnd.
	p.currentExprStart = p.pos
}

// skipComment jumps over "--" and "/* */" comments. If no comment is found
// the parser state is left unchanged.
func (p *Parser) skipComment() bool {
	cp := p.save()
	c := p.char
	if p.skipChar('-') || p.skipChar('/') {
		if (c == '-' && p.skipChar('-')) || (c == '/' && p.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for p.pos < len(p.input) {
				if p.char == end {
					// if end == '\n' (i.e. its a -- comment) dont consume the newline.
					if end == '*' {
						p.advanceChar()
						if !p.skipChar('/') {
							continue
						}
					}
					return true
				}
				p.advanceChar()
			}
			// Reached end of input (valid comment end).
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// advanceToNextMarker advances the parser until it finds a character that
// could be the start of a marker. String literals, quoted identifiers and
// comments are skipped.
func (p *Parser) advanceToNextMarker() error {
	for p.pos < len(p.input) {
		if ok, err := p.skipStringLiteral(); err != nil {
			return err
		} else if ok {
			continue
		}
		if ok := p.skipComment(); ok {
			continue
		}
		if p.isMarkerChar(p.char) {
			return nil
		}
		p.advanceChar()
	}
	return nil
}

func (p *Parser) isMarkerChar(c rune) bool {
	if p.dialect.Style == dialect.Named {
		_, ok := roleChars[c]
		return ok
	}
	return c == '?'
}

// skipStringLiteral jumps over single quoted, double quoted and backquoted
// sections of input. Doubled up quotes are escaped.
func (p *Parser) skipStringLiteral() (bool, error) {
	cp := p.save()

	c := p.char
	if p.skipChar('"') || p.skipChar('\'') || p.skipChar('`') {

		// We keep track of whether the next quote has been previously
		// escaped. If not, it might be a closing quote.
		maybeCloser := true
		for p.skipCharFind(c) {
			// If this looks like a closing quote, check if it might be an
			// escape for a following quote. If not, we're done.
			if maybeCloser && !p.peekChar(c) {
				return true, nil
			}
			maybeCloser = !maybeCloser
		}

		// Reached end of string and didn't find the closing quote
		cp.restore()
		return false, errorAt(fmt.Errorf("missing closing quote in string literal"), p.lineNum, p.colNum(), p.input)
	}
	return false, nil
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipCharFind looks for a char that matches the one passed as parameter and
// then advances the parser to jump over it. In that case returns true. If the
// end of the string is reached and no matching char was found, it returns
// false and it does not change the parser.
func (p *Parser) skipCharFind(c rune) bool {
	cp := p.save()
	for p.pos < len(p.input) {
		if p.char == c {
			p.advanceChar()
			return true
		}
		p.advanceChar()
	}
	cp.restore()
	return false
}

// isNameChar returns true if the given char can be part of a word. It returns
// false otherwise.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isIdentStart and isIdentChar match marker names, [A-Za-z][A-Za-z_0-9]*.
func isIdentStart(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentChar(c rune) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '_'
}

// Functions with the prefix parse attempt to parse some construct. They return
// the construct, and an error and/or a bool that indicates if the construct
// was successfully parsed.
//
// Return cases:
//  - bool == true, err == nil
//		The construct was successfully parsed
//  - bool == false, err != nil
//		The construct was recognised but was not correctly formatted
//  - bool == false, err == nil
//		The construct was not the one we are looking for

// parseMarker parses a marker in the syntax of the parser's dialect. A
// marker must not follow a word character.
func (p *Parser) parseMarker() (*markerPart, bool, error) {
	if isNameChar(p.prevChar()) {
		return nil, false, nil
	}
	if p.dialect.Style == dialect.Named {
		return p.parseNamedMarker()
	}
	return p.parsePositionalMarker()
}

// parsePositionalMarker parses a "?" marker.
func (p *Parser) parsePositionalMarker() (*markerPart, bool, error) {
	start := p.pos
	if !p.skipChar('?') {
		return nil, false, nil
	}
	return &markerPart{
		role:   driver.RoleIn,
		pos:    start,
		inList: inListSite(p.input, start, p.pos),
		raw:    p.input[start:p.pos],
	}, true, nil
}

var roleChars = map[rune]driver.Role{
	':': driver.RoleIn,
	'&': driver.RoleOut,
	'@': driver.RoleCursor,
}

// parseNamedMarker parses a marker of the form role[qualifier]name, e.g.
// ":id", "&[2048]msg" or "&[clob]body". A role char not followed by a
// qualifier or a name is left as text.
func (p *Parser) parseNamedMarker() (*markerPart, bool, error) {
	cp := p.save()
	start := p.pos
	line, col := p.lineNum, p.colNum()

	role, ok := roleChars[p.char]
	if !ok || p.prevChar() == ':' {
		return nil, false, nil
	}
	p.advanceChar()

	m := &markerPart{role: role, pos: start}
	if p.skipChar('[') {
		qualStart := p.pos
		if !p.skipCharFind(']') {
			return nil, false, errorAt(fmt.Errorf("missing closing bracket in marker qualifier"), line, col, p.input)
		}
		if err := m.setQualifier(p.input[qualStart : p.pos-1]); err != nil {
			return nil, false, errorAt(err, line, col, p.input)
		}
		if !isIdentStart(p.char) {
			return nil, false, errorAt(fmt.Errorf("missing name after qualifier in %q", p.input[start:p.pos]), line, col, p.input)
		}
	} else if !isIdentStart(p.char) {
		cp.restore()
		return nil, false, nil
	}

	nameStart := p.pos
	for p.pos < len(p.input) && isIdentChar(p.char) {
		p.advanceChar()
	}
	m.name = p.input[nameStart:p.pos]
	m.raw = p.input[start:p.pos]

	switch {
	case m.role == driver.RoleOut && m.lob == 0 && m.size == 0:
		m.size = defaultOutSize
	case m.role == driver.RoleIn && m.size != 0:
		return nil, false, errorAt(fmt.Errorf("size qualifier on input marker %q", m.raw), line, col, p.input)
	case m.role == driver.RoleCursor && (m.size != 0 || m.lob != 0):
		return nil, false, errorAt(fmt.Errorf("qualifier on cursor marker %q", m.raw), line, col, p.input)
	}
	m.inList = m.role == driver.RoleIn && m.lob == 0 && inListSite(p.input, start, p.pos)
	return m, true, nil
}

// setQualifier parses the text between the brackets of a qualifier. It is
// either a decimal buffer size or one of the LOB kinds.
func (m *markerPart) setQualifier(q string) error {
	switch strings.ToLower(q) {
	case "blob":
		m.lob = driver.Blob
		return nil
	case "clob":
		m.lob = driver.Clob
		return nil
	}
	if q == "" || strings.TrimFunc(q, unicode.IsDigit) != "" {
		return fmt.Errorf("malformed qualifier %q", q)
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return fmt.Errorf("malformed qualifier %q", q)
	}
	m.size = n
	return nil
}

// inListSite reports whether the marker spanning input[start:end] is the
// only content of an IN (...) list.
func inListSite(input string, start, end int) bool {
	after := strings.TrimLeftFunc(input[end:], unicode.IsSpace)
	if !strings.HasPrefix(after, ")") {
		return false
	}
	before := strings.TrimRightFunc(input[:start], unicode.IsSpace)
	if !strings.HasSuffix(before, "(") {
		return false
	}
	before = strings.TrimRightFunc(before[:len(before)-1], unicode.IsSpace)
	if len(before) < 2 || !strings.EqualFold(before[len(before)-2:], "IN") {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(before[:len(before)-2])
	return !isNameChar(r)
}

// checkNames rejects named markers that appear more than once.
func (p *Parser) checkNames() error {
	seen := map[string]bool{}
	for _, part := range p.parts {
		m, ok := part.(*markerPart)
		if !ok || m.name == "" {
			continue
		}
		key := strings.ToLower(m.name)
		if seen[key] {
			return fmt.Errorf("marker name %q appears more than once", m.name)
		}
		seen[key] = true
	}
	return nil
}
