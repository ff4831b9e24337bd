package schema

import (
	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// Hand-written, permissive DDL parser. It tolerates whitespace, SQL
// comments, and quoting styles, matches keywords case-insensitively
// without uppercasing intermediates, and indexes into the source instead
// of copying substrings wherever a slice suffices.

// equalFold reports ASCII case-insensitive equality.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// upperASCII uppercases a declared type for storage; declared types are
// short so the one copy per column is acceptable.
func upperASCII(s string) string {
	b := []byte(s)
	for i := range b {
		if 'a' <= b[i] && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			s.pos++
		case c == '-' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '-':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
		case c == '/' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '*':
			s.pos += 2
			for s.pos+1 < len(s.src) && !(s.src[s.pos] == '*' && s.src[s.pos+1] == '/') {
				s.pos++
			}
			s.pos += 2
			if s.pos > len(s.src) {
				s.pos = len(s.src)
			}
		default:
			return
		}
	}
}

func (s *scanner) eof() bool {
	s.skipSpace()
	return s.pos >= len(s.src)
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9') || c == '$'
}

// next returns the next token: an identifier (unquoted from "", ``, []
// or '' quoting), a number, or a single punctuation character.
func (s *scanner) next() string {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return ""
	}
	c := s.src[s.pos]

	switch c {
	case '"', '`', '\'':
		quote := c
		s.pos++
		start := s.pos
		for s.pos < len(s.src) {
			if s.src[s.pos] == quote {
				// Doubled quotes escape the quote character.
				if s.pos+1 < len(s.src) && s.src[s.pos+1] == quote {
					s.pos += 2
					continue
				}
				break
			}
			s.pos++
		}
		tok := s.src[start:s.pos]
		if s.pos < len(s.src) {
			s.pos++ // closing quote
		}
		return tok
	case '[':
		s.pos++
		start := s.pos
		for s.pos < len(s.src) && s.src[s.pos] != ']' {
			s.pos++
		}
		tok := s.src[start:s.pos]
		if s.pos < len(s.src) {
			s.pos++
		}
		return tok
	}

	if isIdentStart(c) || ('0' <= c && c <= '9') {
		start := s.pos
		for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
			s.pos++
		}
		return s.src[start:s.pos]
	}

	s.pos++
	return s.src[s.pos-1 : s.pos]
}

// peek returns the next token without consuming it.
func (s *scanner) peek() string {
	save := s.pos
	tok := s.next()
	s.pos = save
	return tok
}

// expectKeyword consumes the next token and checks it against kw.
func (s *scanner) expectKeyword(kw string) bool {
	return equalFold(s.next(), kw)
}

// acceptKeyword consumes the next token only if it equals kw.
func (s *scanner) acceptKeyword(kw string) bool {
	save := s.pos
	if equalFold(s.next(), kw) {
		return true
	}
	s.pos = save
	return false
}

// skipBalanced consumes a parenthesised group; the opening paren has
// already been consumed.
func (s *scanner) skipBalanced() {
	depth := 1
	for depth > 0 {
		tok := s.next()
		switch tok {
		case "":
			return
		case "(":
			depth++
		case ")":
			depth--
		}
	}
}

// skipIfNotExists consumes an optional IF NOT EXISTS clause.
func (s *scanner) skipIfNotExists() {
	save := s.pos
	if s.acceptKeyword("if") && s.acceptKeyword("not") && s.acceptKeyword("exists") {
		return
	}
	s.pos = save
}

// columnConstraintKeywords terminate the declared-type token run of a
// column definition.
var columnConstraintKeywords = []string{
	"primary", "not", "null", "unique", "check", "default",
	"collate", "references", "generated", "as", "constraint",
}

func isColumnConstraintKeyword(tok string) bool {
	for _, kw := range columnConstraintKeywords {
		if equalFold(tok, kw) {
			return true
		}
	}
	return false
}

// isTableConstraintKeyword reports whether tok starts a table-level
// constraint instead of a column definition.
func isTableConstraintKeyword(tok string) bool {
	for _, kw := range []string{"primary", "unique", "foreign", "check", "constraint"} {
		if equalFold(tok, kw) {
			return true
		}
	}
	return false
}

// ParseCreateTable parses a CREATE TABLE statement into a Table. Layout
// information only; table constraints are recognised and skipped.
func ParseCreateTable(sql string) (*Table, error) {
	s := &scanner{src: sql}

	if !s.expectKeyword("create") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE statement")
	}
	// TEMP/TEMPORARY tables parse the same way.
	s.acceptKeyword("temp")
	s.acceptKeyword("temporary")
	if !s.expectKeyword("table") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE TABLE statement")
	}
	s.skipIfNotExists()

	name := s.next()
	if name == "" {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing table name")
	}
	// schema-qualified name
	if s.peek() == "." {
		s.next()
		name = s.next()
	}

	t := &Table{Name: name, SQL: sql, RowidAlias: -1}

	if s.next() != "(" {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing column list")
	}

	physical := 0
	for {
		tok := s.peek()
		if tok == "" {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "unterminated column list")
		}
		if tok == ")" {
			s.next()
			break
		}

		if isTableConstraintKeyword(tok) {
			skipTableConstraint(s)
		} else {
			col, err := parseColumnDef(s)
			if err != nil {
				return nil, err
			}
			col.Ordinal = len(t.Columns)
			col.Physical[0] = physical
			col.Physical[1] = -1
			switch col.DeclaredType {
			case "GUID", "UUID":
				col.Merged = MergedGUID
				col.Physical[1] = physical + 1
				physical += 2
			case "DECIMAL128":
				col.Merged = MergedDecimal
				col.Physical[1] = physical + 1
				physical += 2
			default:
				physical++
			}
			if col.IsRowidAlias {
				if t.RowidAlias >= 0 {
					col.IsRowidAlias = false
				} else {
					t.RowidAlias = col.Ordinal
				}
			}
			t.Columns = append(t.Columns, col)
		}

		switch tok := s.next(); tok {
		case ",":
		case ")":
			goto done
		case "":
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "unterminated column list")
		default:
			return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
				"unexpected token %q in column list", tok)
		}
	}
done:
	t.PhysicalColumns = physical

	if s.acceptKeyword("without") {
		if s.acceptKeyword("rowid") {
			t.WithoutRowid = true
		}
	}
	// STRICT and anything after is irrelevant to layout.

	return t, nil
}

// parseColumnDef parses one column definition up to (not including) the
// separating comma or closing paren.
func parseColumnDef(s *scanner) (Column, error) {
	var col Column
	col.Name = s.next()
	if col.Name == "" {
		return col, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing column name")
	}

	// The declared type is the run of identifiers before any constraint
	// keyword, optionally followed by (n) or (n,m).
	declared := ""
	for {
		tok := s.peek()
		if tok == "" || tok == "," || tok == ")" || isColumnConstraintKeyword(tok) {
			break
		}
		if tok == "(" {
			s.next()
			s.skipBalanced()
			continue
		}
		s.next()
		if declared != "" {
			declared += " "
		}
		declared += tok
	}
	col.DeclaredType = upperASCII(declared)

	// Column constraints.
	for {
		tok := s.peek()
		if tok == "" || tok == "," || tok == ")" {
			break
		}
		switch {
		case s.acceptKeyword("primary"):
			s.acceptKeyword("key")
			s.acceptKeyword("asc")
			s.acceptKeyword("desc")
			s.acceptKeyword("autoincrement")
			col.PrimaryKey = true
			if col.DeclaredType == "INTEGER" || col.DeclaredType == "ROWID" {
				col.IsRowidAlias = true
			}
		case s.acceptKeyword("not"):
			s.acceptKeyword("null")
			col.NotNull = true
		case s.acceptKeyword("null"):
			// explicit NULL permission, no effect
		case s.acceptKeyword("default"):
			col.HasDefault = true
			if s.peek() == "(" {
				s.next()
				s.skipBalanced()
			} else {
				// signed literals arrive as two tokens
				if v := s.next(); v == "-" || v == "+" {
					s.next()
				}
			}
		case s.acceptKeyword("unique"):
		case s.acceptKeyword("collate"):
			s.next()
		case s.acceptKeyword("check"):
			if s.next() == "(" {
				s.skipBalanced()
			}
		case s.acceptKeyword("references"):
			s.next() // foreign table
			if s.peek() == "(" {
				s.next()
				s.skipBalanced()
			}
			// ON DELETE/UPDATE actions
			for s.acceptKeyword("on") {
				s.next() // delete | update
				s.next() // cascade | restrict | set | no
				s.acceptKeyword("null")
				s.acceptKeyword("default")
				s.acceptKeyword("action")
			}
		case s.acceptKeyword("generated"):
			s.acceptKeyword("always")
			s.acceptKeyword("as")
			if s.next() == "(" {
				s.skipBalanced()
			}
			s.acceptKeyword("stored")
			s.acceptKeyword("virtual")
		case s.acceptKeyword("constraint"):
			s.next() // constraint name; the constraint itself follows
		default:
			// Unknown trailing token; consume it to stay permissive.
			s.next()
		}
	}
	return col, nil
}

// skipTableConstraint consumes a table-level constraint.
func skipTableConstraint(s *scanner) {
	if s.acceptKeyword("constraint") {
		s.next()
	}
	for {
		tok := s.peek()
		if tok == "" || tok == "," || tok == ")" {
			return
		}
		if s.next() == "(" {
			s.skipBalanced()
		}
	}
}

// ParseCreateIndex parses a CREATE INDEX statement.
func ParseCreateIndex(sql string) (*Index, error) {
	s := &scanner{src: sql}

	if !s.expectKeyword("create") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE statement")
	}
	s.acceptKeyword("unique")
	if !s.expectKeyword("index") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE INDEX statement")
	}
	s.skipIfNotExists()

	idx := &Index{SQL: sql}
	idx.Name = s.next()
	if s.peek() == "." {
		s.next()
		idx.Name = s.next()
	}

	if !s.expectKeyword("on") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing ON clause")
	}
	idx.Table = s.next()

	if s.next() != "(" {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing key column list")
	}
	for {
		name := s.next()
		if name == "" {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "unterminated key column list")
		}
		if name == ")" {
			break
		}
		kc := IndexColumn{Name: name}
		if s.acceptKeyword("collate") {
			s.next()
		}
		if s.acceptKeyword("desc") {
			kc.Desc = true
		} else {
			s.acceptKeyword("asc")
		}
		idx.Columns = append(idx.Columns, kc)

		switch s.next() {
		case ",":
		case ")":
			return idx, nil
		default:
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "malformed key column list")
		}
	}
	return idx, nil
}

// ParseCreateView parses a CREATE VIEW statement, extracting the source
// tables, the projection list, and the join/filter flags used to decide
// promotion.
func ParseCreateView(sql string) (*View, error) {
	s := &scanner{src: sql}

	if !s.expectKeyword("create") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE statement")
	}
	s.acceptKeyword("temp")
	s.acceptKeyword("temporary")
	if !s.expectKeyword("view") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a CREATE VIEW statement")
	}
	s.skipIfNotExists()

	v := &View{SQL: sql}
	v.Name = s.next()
	if s.peek() == "." {
		s.next()
		v.Name = s.next()
	}

	// Optional column-name list before AS.
	if s.peek() == "(" {
		s.next()
		s.skipBalanced()
	}
	if !s.expectKeyword("as") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing AS clause")
	}
	if !s.expectKeyword("select") {
		return nil, sharcerr.NewUnsupported("view "+v.Name, "body is not a plain SELECT")
	}
	s.acceptKeyword("distinct")
	s.acceptKeyword("all")

	// Projection list up to FROM.
	if s.peek() == "*" {
		s.next()
		v.IsSelectAll = true
	} else {
		for {
			tok := s.next()
			if tok == "" {
				return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "unterminated projection")
			}
			if equalFold(tok, "from") {
				goto from
			}
			name := tok
			// qualified column: keep the last segment
			for s.peek() == "." {
				s.next()
				name = s.next()
			}
			// aliases
			if s.acceptKeyword("as") {
				name = s.next()
			}
			v.Projection = append(v.Projection, name)

			sep := s.next()
			if equalFold(sep, "from") {
				goto from
			}
			if sep != "," {
				return nil, sharcerr.NewUnsupported("view "+v.Name,
					"projection uses expressions")
			}
		}
	}
	if !s.expectKeyword("from") {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "missing FROM clause")
	}

from:
	v.Sources = append(v.Sources, s.next())
	for {
		tok := s.peek()
		if tok == "" || tok == ";" {
			break
		}
		switch {
		case tok == ",":
			s.next()
			v.Sources = append(v.Sources, s.next())
			v.HasJoin = true
		case equalFold(tok, "join") || equalFold(tok, "inner") ||
			equalFold(tok, "left") || equalFold(tok, "right") ||
			equalFold(tok, "full") || equalFold(tok, "cross") ||
			equalFold(tok, "natural"):
			s.next()
			v.HasJoin = true
			if equalFold(tok, "join") {
				v.Sources = append(v.Sources, s.next())
			}
		case equalFold(tok, "where"):
			s.next()
			v.HasFilter = true
		default:
			s.next()
		}
	}
	return v, nil
}
