package testsupport

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/goliatone/go-persist/store"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadRows loads a JSON fixture mapping table names to row lists. Whole
// numbers decode as int64 and fractional ones as float64, matching what the
// stores return.
func LoadRows(t *testing.T, path string) map[string][]store.Row {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader(LoadFixture(t, path)))
	dec.UseNumber()

	var raw map[string][]map[string]any
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("failed to unmarshal row fixture from %s: %v", path, err)
	}

	out := make(map[string][]store.Row, len(raw))
	for table, rows := range raw {
		for _, r := range rows {
			row := make(store.Row, len(r))
			for k, v := range r {
				row[k] = fixtureValue(v)
			}
			out[table] = append(out[table], store.NormalizeRow(row))
		}
	}
	return out
}

// SeedFixture loads a row fixture and seeds every table, in name order.
func SeedFixture(t *testing.T, s Seeder, path string) {
	t.Helper()

	rows := LoadRows(t, path)
	tables := make([]string, 0, len(rows))
	for table := range rows {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		s.Seed(table, rows[table]...)
	}
}

func fixtureValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
