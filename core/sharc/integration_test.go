package sharc

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// Fixture databases are produced by a reference SQLite implementation
// and read back through this engine, so the format handling is checked
// against real files rather than our own writer.

func fixtureDB(t *testing.T, stmts []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("fixture exec %q: %v", stmt, err)
		}
	}
	return path
}

func usersFixture(t *testing.T) string {
	return fixtureDB(t, []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INT, score REAL, pic BLOB)`,
		`INSERT INTO users VALUES (1, 'Ada', 36, 9.5, x'0102')`,
		`INSERT INTO users VALUES (2, 'Bob', 41, 7.25, NULL)`,
		`INSERT INTO users VALUES (3, NULL, NULL, NULL, NULL)`,
		`INSERT INTO users VALUES (10, 'Zoe', 29, 0.0, x'FF')`,
	})
}

func openVariants(t *testing.T, path string) map[string]Options {
	return map[string]Options{
		"cached file":   {PageCacheSize: 8},
		"uncached file": {PageCacheSize: 0},
		"preloaded":     {PreloadToMemory: true},
		"mmap":          {MemoryMap: true},
	}
}

func TestReadSQLiteFixture(t *testing.T) {
	path := usersFixture(t)

	for name, opts := range openVariants(t, path) {
		t.Run(name, func(t *testing.T) {
			db, err := Open(path, opts)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close()

			r, err := db.CreateReader("users", nil)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			type row struct {
				id    int64
				name  string
				isNul bool
			}
			var got []row
			for {
				ok, err := r.Read()
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					break
				}
				name, err := r.GetString(1)
				if err != nil {
					t.Fatal(err)
				}
				isNull, err := r.IsNull(1)
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, row{r.Rowid(), name, isNull})
			}

			want := []row{{1, "Ada", false}, {2, "Bob", false}, {3, "", true}, {10, "Zoe", false}}
			if len(got) != len(want) {
				t.Fatalf("got %d rows, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFixtureTypedValues(t *testing.T) {
	path := usersFixture(t)
	db, err := Open(path, Options{PageCacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	values, found, err := db.ReadRow("users", 1)
	if err != nil || !found {
		t.Fatalf("ReadRow() = (%v, %v)", found, err)
	}
	if values[2].Int != 36 {
		t.Errorf("age = %+v", values[2])
	}
	if values[3].Real != 9.5 {
		t.Errorf("score = %+v", values[3])
	}
	if !bytes.Equal(values[4].Bytes, []byte{1, 2}) {
		t.Errorf("pic = %+v", values[4])
	}
}

func TestFixtureFilters(t *testing.T) {
	path := usersFixture(t)
	db, err := Open(path, Options{PageCacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tests := []struct {
		name string
		flt  *Filter
		want []int64
	}{
		{"age >= 30", FilterColumn("age").Gte(FilterInt64(30)), []int64{1, 2}},
		{"name starts A", FilterColumn("name").StartsWith("A"), []int64{1}},
		{"rowid range", FilterColumn("id").Between(FilterInt64Range(2, 9)), []int64{2, 3}},
		{"null age", FilterColumn("age").IsNull(), []int64{3}},
		{"id not null", FilterColumn("id").IsNotNull(), []int64{1, 2, 3, 10}},
		{"name in set", FilterColumn("name").In(FilterUtf8Set("Bob", "Zoe")), []int64{2, 10}},
		{"score eq 0", FilterColumn("score").Eq(FilterDouble(0)), []int64{10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := db.CreateReader("users", tt.flt)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			var got []int64
			for {
				ok, err := r.Read()
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					break
				}
				got = append(got, r.Rowid())
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestFixtureOverflowPayload(t *testing.T) {
	// A 20 KB blob forces an overflow chain on 4 KB pages.
	big := bytes.Repeat([]byte{0x5A}, 20_000)
	path := fixtureDB(t, []string{
		`CREATE TABLE blobs (id INTEGER PRIMARY KEY, data BLOB)`,
	})

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO blobs VALUES (1, ?)`, big); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	db, err := Open(path, Options{PageCacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	values, found, err := db.ReadRow("blobs", 1)
	if err != nil || !found {
		t.Fatalf("ReadRow() = (%v, %v)", found, err)
	}
	if !bytes.Equal(values[1].Bytes, big) {
		t.Error("overflow blob round trip mismatch")
	}
}

func TestFixtureView(t *testing.T) {
	path := fixtureDB(t, []string{
		`CREATE TABLE logs (id INTEGER PRIMARY KEY, level TEXT, msg TEXT)`,
		`INSERT INTO logs VALUES (1, 'info', 'started')`,
		`INSERT INTO logs VALUES (2, 'error', 'boom')`,
		`CREATE VIEW log_messages AS SELECT id, msg FROM logs`,
		`CREATE VIEW log_errors AS SELECT msg FROM logs WHERE level = 'error'`,
	})

	db, err := Open(path, Options{PageCacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// A join/filter-free view promotes to a projected table read.
	r, err := db.CreateReader("log_messages", nil)
	if err != nil {
		t.Fatalf("view reader error = %v", err)
	}
	defer r.Close()
	if r.FieldCount() != 2 {
		t.Errorf("FieldCount() = %d, want 2", r.FieldCount())
	}
	if ok, err := r.Read(); err != nil || !ok {
		t.Fatal(err)
	}
	if msg, _ := r.GetString(1); msg != "started" {
		t.Errorf("msg = %q", msg)
	}

	// A filtered view cannot be promoted.
	if _, err := db.CreateReader("log_errors", nil); !sharcerr.Is(err, sharcerr.ErrUnsupported) {
		t.Errorf("filtered view error = %v, want ErrUnsupported", err)
	}
}

func TestFixtureRejectsWAL(t *testing.T) {
	path := fixtureDB(t, []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE t (a INT)`,
		`INSERT INTO t VALUES (1)`,
	})

	if _, err := Open(path, Options{PageCacheSize: 8}); !sharcerr.Is(err, sharcerr.ErrUnsupported) {
		t.Errorf("WAL database error = %v, want ErrUnsupported", err)
	}
}

func TestFixtureRejectsWithoutRowid(t *testing.T) {
	path := fixtureDB(t, []string{
		`CREATE TABLE kv (k TEXT PRIMARY KEY, v BLOB) WITHOUT ROWID`,
	})

	if _, err := Open(path, Options{PageCacheSize: 8}); !sharcerr.Is(err, sharcerr.ErrUnsupported) {
		t.Errorf("WITHOUT ROWID database error = %v, want ErrUnsupported", err)
	}
}

func TestFixtureAppendInterop(t *testing.T) {
	// Rows appended by this engine must read back through the reference
	// implementation.
	path := usersFixture(t)

	db, err := Open(path, Options{ReadWrite: true, PageCacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	err = db.AppendRow("users", 11, []Value{
		Null(), Text("Eve"), Int64(33), Real(5.5), Blob([]byte{9}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var name string
	var age int64
	if err := conn.QueryRow(`SELECT name, age FROM users WHERE id = 11`).Scan(&name, &age); err != nil {
		t.Fatalf("reference read-back error = %v", err)
	}
	if name != "Eve" || age != 33 {
		t.Errorf("read back (%q, %d)", name, age)
	}
}
