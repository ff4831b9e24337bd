package schema

import (
	"strings"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/btree"
)

// sqlite_schema has five columns: type, name, tbl_name, rootpage, sql.
// Its root B-tree lives at page 1.

const schemaRootPage = 1

// Load walks sqlite_schema and parses every table, index, and view.
// WITHOUT ROWID tables are rejected at load time so readers never see an
// unsupported layout.
func Load(src btree.PageReader, usable int, cookie uint32) (*Schema, error) {
	s := NewSchema()
	s.Cookie = cookie

	cur := btree.NewCursor(src, schemaRootPage, usable)
	defer cur.Close()

	ok, err := cur.MoveFirst()
	if err != nil {
		return nil, sharcerr.Wrap(err, "reading sqlite_schema")
	}
	for ok {
		payload, err := cur.Payload()
		if err != nil {
			return nil, sharcerr.Wrap(err, "reading sqlite_schema")
		}
		if err := s.addRow(payload); err != nil {
			return nil, err
		}
		ok, err = cur.MoveNext()
		if err != nil {
			return nil, sharcerr.Wrap(err, "reading sqlite_schema")
		}
	}
	return s, nil
}

func (s *Schema) addRow(payload []byte) error {
	var row [5]btree.ColumnValue
	n, err := btree.DecodeRecordInto(payload, row[:])
	if err != nil {
		return sharcerr.Wrap(err, "decoding sqlite_schema row")
	}
	if n < 5 {
		return sharcerr.NewCorrupt(schemaRootPage, "sqlite_schema row has fewer than 5 columns")
	}

	typ := string(row[0].Bytes)
	name := string(row[1].Bytes)
	rootPage := uint32(row[3].Int)
	sql := string(row[4].Bytes)

	switch typ {
	case "table":
		if strings.HasPrefix(name, "sqlite_") {
			// Internal bookkeeping tables carry no user layout.
			return nil
		}
		t, err := ParseCreateTable(sql)
		if err != nil {
			return sharcerr.Wrapf(err, "parsing table %s", name)
		}
		if t.WithoutRowid {
			return sharcerr.NewUnsupported("table "+name, "WITHOUT ROWID layout")
		}
		t.Name = name // sqlite_schema is authoritative for the name
		t.RootPage = rootPage
		s.Tables[name] = t

	case "index":
		if strings.HasPrefix(name, "sqlite_autoindex_") || sql == "" {
			return nil
		}
		idx, err := ParseCreateIndex(sql)
		if err != nil {
			return sharcerr.Wrapf(err, "parsing index %s", name)
		}
		idx.Name = name
		idx.RootPage = rootPage
		s.Indexes[name] = idx

	case "view":
		v, err := ParseCreateView(sql)
		if err != nil {
			// Views with an unsupported body stay listed but can never
			// promote; other parse errors fail the load.
			if sharcerr.Is(err, sharcerr.ErrUnsupported) {
				s.Views[name] = &View{Name: name, SQL: sql, HasJoin: true}
				return nil
			}
			return sharcerr.Wrapf(err, "parsing view %s", name)
		}
		v.Name = name
		s.Views[name] = v

	case "trigger":
		// Triggers have no read-side behavior here.
	}
	return nil
}
