// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlbind/dialect"
	"github.com/canonical/sqlbind/driver"
)

type ParserSuite struct{}

var _ = Suite(&ParserSuite{})

var positionalTests = []struct {
	summary        string
	input          string
	expectedParsed string
}{{
	"no markers",
	"SELECT * FROM t",
	"[Bypass[SELECT * FROM t]]",
}, {
	"only a marker",
	"?",
	"[Marker[IN]]",
}, {
	"scalar and in list",
	"SELECT * FROM t WHERE a = ? AND b IN(?)",
	"[Bypass[SELECT * FROM t WHERE a = ] Marker[IN] Bypass[ AND b IN(] Marker[IN in-list] Bypass[)]]",
}, {
	"not in with blanks",
	"DELETE FROM t WHERE id NOT IN ( ? )",
	"[Bypass[DELETE FROM t WHERE id NOT IN ( ] Marker[IN in-list] Bypass[ )]]",
}, {
	"in list with two markers",
	"SELECT * FROM t WHERE id IN(?, ?)",
	"[Bypass[SELECT * FROM t WHERE id IN(] Marker[IN] Bypass[, ] Marker[IN] Bypass[)]]",
}, {
	"function ending in in",
	"SELECT * FROM t WHERE f = join(?)",
	"[Bypass[SELECT * FROM t WHERE f = join(] Marker[IN] Bypass[)]]",
}, {
	"marker after word char",
	"SELECT a? FROM t",
	"[Bypass[SELECT a? FROM t]]",
}, {
	"no space before marker",
	"UPDATE t SET a=?,b=? WHERE c=?",
	"[Bypass[UPDATE t SET a=] Marker[IN] Bypass[,b=] Marker[IN] Bypass[ WHERE c=] Marker[IN]]",
}, {
	"quoted markers",
	"SELECT '?', \"col?\", `x?` FROM t WHERE x = ?",
	"[Bypass[SELECT '?', \"col?\", `x?` FROM t WHERE x = ] Marker[IN]]",
}, {
	"escaped quote",
	"SELECT 'it''s ?' FROM t WHERE x = ?",
	"[Bypass[SELECT 'it''s ?' FROM t WHERE x = ] Marker[IN]]",
}, {
	"comments",
	"SELECT a -- what?\nFROM t WHERE b = ? /* ? */",
	"[Bypass[SELECT a -- what?\nFROM t WHERE b = ] Marker[IN] Bypass[ /* ? */]]",
}, {
	"concatenation after marker",
	"SELECT ?||'x' FROM t",
	"[Bypass[SELECT ] Marker[IN] Bypass[||'x' FROM t]]",
}, {
	"arithmetic after marker",
	"UPDATE t SET n = ?-1 WHERE id = ?",
	"[Bypass[UPDATE t SET n = ] Marker[IN] Bypass[-1 WHERE id = ] Marker[IN]]",
}, {
	"operator chars after marker",
	"SELECT ?#2, ?|3, ?&4 FROM t",
	"[Bypass[SELECT ] Marker[IN] Bypass[#2, ] Marker[IN] Bypass[|3, ] Marker[IN] Bypass[&4 FROM t]]",
}, {
	"no wrapping",
	"INSERT INTO t VALUES (?);",
	"[Bypass[INSERT INTO t VALUES (] Marker[IN] Bypass[);]]",
}}

func (s *ParserSuite) TestPositional(c *C) {
	parser := NewParser(dialect.SQLite)
	for i, test := range positionalTests {
		var parsedExpr *ParsedExpr
		var err error
		if parsedExpr, err = parser.Parse(test.input); err != nil {
			c.Errorf("test %d failed (Parse):\nsummary: %s\ninput: %s\nexpected: %s\nerr: %s\n", i, test.summary, test.input, test.expectedParsed, err)
		} else if parsedExpr.String() != test.expectedParsed {
			c.Errorf("test %d failed (Parse):\nsummary: %s\ninput: %s\nexpected: %s\nactual:   %s\n", i, test.summary, test.input, test.expectedParsed, parsedExpr.String())
		}
	}
}

var namedTests = []struct {
	summary        string
	input          string
	expectedParsed string
}{{
	"procedure call with every marker kind",
	"pkg.proc(:in_param, &out_param, &[2048]large_out_param, @cursor, :[blob]in_blob, &[blob]out_blob, :[clob]in_clob, &[clob]out_clob);",
	"[Bypass[BEGIN pkg.proc(] Marker[IN in_param] Bypass[, ] Marker[OUT 255 out_param] Bypass[, ] " +
		"Marker[OUT 2048 large_out_param] Bypass[, ] Marker[CURSOR cursor] Bypass[, ] " +
		"Marker[IN BLOB in_blob] Bypass[, ] Marker[OUT BLOB out_blob] Bypass[, ] " +
		"Marker[IN CLOB in_clob] Bypass[, ] Marker[OUT CLOB out_clob] Bypass[); END;]]",
}, {
	"zero size gets the default",
	"p(&[0]x);",
	"[Bypass[BEGIN p(] Marker[OUT 255 x] Bypass[); END;]]",
}, {
	"upper case lob qualifier",
	"p(&[CLOB]x);",
	"[Bypass[BEGIN p(] Marker[OUT CLOB x] Bypass[); END;]]",
}, {
	"block is not wrapped again",
	"begin x := :val; end;",
	"[Bypass[begin x := ] Marker[IN val] Bypass[; end;]]",
}, {
	"in list",
	"SELECT * FROM t WHERE id IN (:ids)",
	"[Bypass[SELECT * FROM t WHERE id IN (] Marker[IN ids in-list] Bypass[)]]",
}, {
	"db link and bitwise and",
	"SELECT a & b FROM t@remote WHERE a = :a",
	"[Bypass[SELECT a & b FROM t@remote WHERE a = ] Marker[IN a]]",
}, {
	"quoted role chars",
	"SELECT '10:30 &x @y' FROM dual WHERE a = :a",
	"[Bypass[SELECT '10:30 &x @y' FROM dual WHERE a = ] Marker[IN a]]",
}, {
	"double colon",
	"SELECT a::text FROM t",
	"[Bypass[SELECT a::text FROM t]]",
}}

func (s *ParserSuite) TestNamed(c *C) {
	parser := NewParser(dialect.Oracle)
	for i, test := range namedTests {
		var parsedExpr *ParsedExpr
		var err error
		if parsedExpr, err = parser.Parse(test.input); err != nil {
			c.Errorf("test %d failed (Parse):\nsummary: %s\ninput: %s\nexpected: %s\nerr: %s\n", i, test.summary, test.input, test.expectedParsed, err)
		} else if parsedExpr.String() != test.expectedParsed {
			c.Errorf("test %d failed (Parse):\nsummary: %s\ninput: %s\nexpected: %s\nactual:   %s\n", i, test.summary, test.input, test.expectedParsed, parsedExpr.String())
		}
	}
}

func (s *ParserSuite) TestMarkers(c *C) {
	parser := NewParser(dialect.Oracle)
	pe, err := parser.Parse("SELECT :a, &[10]b FROM t WHERE c IN (:c)")
	c.Assert(err, IsNil)
	c.Assert(pe.Markers(), DeepEquals, []Marker{
		{Role: driver.RoleIn, Name: "a", Pos: 7},
		{Role: driver.RoleOut, Size: 10, Name: "b", Pos: 11},
		{Role: driver.RoleIn, Name: "c", Pos: 37, InList: true},
	})
}

func (s *ParserSuite) TestNamedErrors(c *C) {
	tests := []struct {
		input string
		err   string
	}{{
		"CALL p(&[abc]x)",
		`cannot parse expression: column 8: malformed qualifier "abc"`,
	}, {
		"CALL p(&[]x)",
		`cannot parse expression: column 8: malformed qualifier ""`,
	}, {
		"CALL p(&[10])",
		`cannot parse expression: column 8: missing name after qualifier in "&\[10\]"`,
	}, {
		"CALL p(:[10]x)",
		`cannot parse expression: column 8: size qualifier on input marker ":\[10\]x"`,
	}, {
		"CALL p(@[clob]c)",
		`cannot parse expression: column 8: qualifier on cursor marker "@\[clob\]c"`,
	}, {
		"CALL p(&[10 x)",
		`cannot parse expression: column 8: missing closing bracket in marker qualifier`,
	}, {
		"CALL p(:a,\n:A)",
		`cannot parse expression: marker name "A" appears more than once`,
	}, {
		"CALL p(\n  &[x]y)",
		`cannot parse expression: line 2, column 3: malformed qualifier "x"`,
	}}

	for _, test := range tests {
		parser := NewParser(dialect.Oracle)
		expr, err := parser.Parse(test.input)
		c.Check(err, ErrorMatches, test.err, Commentf("input: %q", test.input))
		c.Check(expr, IsNil)
	}
}

// We return a proper error when we find an unbound string literal
func (s *ParserSuite) TestUnfinishedStringLiteral(c *C) {
	testList := []string{
		"SELECT foo FROM t WHERE x = 'dddd",
		"SELECT foo FROM t WHERE x = \"dddd",
		"SELECT foo FROM t WHERE x = \"dddd'",
	}

	for _, sql := range testList {
		parser := NewParser(dialect.Postgres)
		expr, err := parser.Parse(sql)
		c.Assert(err, ErrorMatches, "cannot parse expression: column 29: missing closing quote in string literal")
		c.Assert(expr, IsNil)
	}
}

// Detect bad escaped string literal
func (s *ParserSuite) TestBadEscaped(c *C) {
	sql := "SELECT foo FROM t WHERE x = 'O'Donnell'"
	parser := NewParser(dialect.MySQL)
	_, err := parser.Parse(sql)
	c.Assert(err, ErrorMatches, "cannot parse expression: column 39: missing closing quote in string literal")
}

func FuzzParser(f *testing.F) {
	// Add some values to the corpus
	for _, test := range positionalTests {
		f.Add(test.input)
	}
	for _, test := range namedTests {
		f.Add(test.input)
	}
	f.Fuzz(func(t *testing.T, s string) {
		// Loop forever or until it crashes
		NewParser(dialect.SQLite).Parse(s)
		NewParser(dialect.Oracle).Parse(s)
	})
}
