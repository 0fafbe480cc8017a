package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type keyScenario struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Cases       []keyCase `json:"cases"`
}

type keyCase struct {
	Region      string `json:"region"`
	Args        []any  `json:"args"`
	ExpectedKey string `json:"expectedKey"`
}

type keyFixtures struct {
	Scenarios []keyScenario `json:"scenarios"`
}

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestDefaultKeySerializer_BasicTypes(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name   string
		region string
		args   []any
		want   string
	}{
		{name: "no args", region: "Item", want: "Item"},
		{name: "single int", region: "Item", args: []any{42}, want: joinWithSeparator("Item", "42")},
		{name: "multiple basic types", region: "Q", args: []any{1, "hello", true, 3.14}, want: joinWithSeparator("Q", "1", "hello", "true", "3.14")},
		{name: "bytes", region: "Blob", args: []any{[]byte{0xca, 0xfe}}, want: joinWithSeparator("Blob", "bytes:cafe")},
		{name: "nil", region: "Item", args: []any{nil}, want: joinWithSeparator("Item", "nil")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serializer.SerializeKey(tt.region, tt.args...); got != tt.want {
				t.Errorf("SerializeKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Identifiers read back from different drivers must map to one key.
func TestDefaultKeySerializer_NumericIdentity(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	want := serializer.SerializeKey("Item", int64(7))

	for _, id := range []any{7, int32(7), uint16(7), uint64(7), float64(7), float32(7)} {
		if got := serializer.SerializeKey("Item", id); got != want {
			t.Errorf("SerializeKey(%T) = %q, want %q", id, got, want)
		}
	}

	n := 7
	if got := serializer.SerializeKey("Item", &n); got != want {
		t.Errorf("SerializeKey(*int) = %q, want %q", got, want)
	}
}

func TestDefaultKeySerializer_Times(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("UTC+2", 2*60*60))

	if serializer.SerializeKey("T", utc) != serializer.SerializeKey("T", local) {
		t.Error("equal instants in different zones must share a key")
	}
}

func TestDefaultKeySerializer_UUID(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	id := uuid.MustParse("8f9d3a4e-6a2b-4c1d-9e8f-0a1b2c3d4e5f")

	got := serializer.SerializeKey("User", id)
	if want := joinWithSeparator("User", id.String()); got != want {
		t.Errorf("SerializeKey() = %q, want %q", got, want)
	}
}

func TestDefaultKeySerializer_Composites(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	type filter struct {
		Column string
		Value  any
		hidden int
	}

	tests := []struct {
		name string
		arg  any
		want string
	}{
		{name: "slice", arg: []any{1, "a"}, want: "slice[2]:{1,a}"},
		{name: "nil slice", arg: []int(nil), want: "slice:nil"},
		{name: "array", arg: [2]int{3, 4}, want: "array[2]:{3,4}"},
		{name: "map sorted", arg: map[string]int{"b": 2, "a": 1}, want: "map[2]:{a=1,b=2}"},
		{name: "nil map", arg: map[string]int(nil), want: "map:nil"},
		{name: "struct exported fields", arg: filter{Column: "item_id", Value: 3, hidden: 9}, want: "struct:{Column:item_id,Value:3}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serializer.SerializeKey("R", tt.arg); got != joinWithSeparator("R", tt.want) {
				t.Errorf("SerializeKey() = %q, want %q", got, joinWithSeparator("R", tt.want))
			}
		})
	}
}

func TestDefaultKeySerializer_Stability(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	args := []any{map[string]any{"z": 1, "a": []int{1, 2}, "m": "x"}, "tail"}

	first := serializer.SerializeKey("Q", args...)
	for i := 0; i < 50; i++ {
		if got := serializer.SerializeKey("Q", args...); got != first {
			t.Fatalf("SerializeKey() unstable: %q != %q", got, first)
		}
	}
}

func TestRegionPrefix(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	key := serializer.SerializeKey("Item", 1)

	if !strings.HasPrefix(key, RegionPrefix("Item")) {
		t.Errorf("key %q does not start with region prefix", key)
	}
	if strings.HasPrefix(serializer.SerializeKey("Item.bids", 1), RegionPrefix("Item")) {
		t.Error("collection role keys must not share the entity region prefix")
	}
}

func TestDefaultKeySerializer_Fixtures(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	fixtures := loadKeyFixtures(t)

	for _, scenario := range fixtures.Scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			for _, tc := range scenario.Cases {
				if got := serializer.SerializeKey(tc.Region, tc.Args...); got != tc.ExpectedKey {
					t.Errorf("SerializeKey(%s, %v) = %q, want %q", tc.Region, tc.Args, got, tc.ExpectedKey)
				}
			}
		})
	}
}

func loadKeyFixtures(t *testing.T) keyFixtures {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", "key_serializer_scenarios.json"))
	if err != nil {
		t.Fatalf("Failed to read fixture file: %v", err)
	}

	var fixtures keyFixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		t.Fatalf("Failed to unmarshal fixture data: %v", err)
	}
	return fixtures
}

func BenchmarkDefaultKeySerializer(b *testing.B) {
	serializer := NewDefaultKeySerializer()
	args := []any{1, "benchmark", []int{1, 2, 3}, map[string]int{"test": 1}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		serializer.SerializeKey("Item", args...)
	}
}
