package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 7, int64(7)},
		{"int32", int32(-3), int64(-3)},
		{"uint64 in range", uint64(12), int64(12)},
		{"float32", float32(1.5), float64(1.5)},
		{"time to utc", ts, ts.UTC()},
		{"uuid", id, id.String()},
		{"string", "x", "x"},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestEqual(t *testing.T) {
	ts := time.Now()
	assert.True(t, Equal(1, int64(1)))
	assert.True(t, Equal(ts, ts.In(time.UTC)))
	assert.True(t, Equal([]byte("abc"), "abc"))
	assert.True(t, Equal(int64(2), 2.0))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal("1", 1))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, 1))
	assert.Equal(t, 1, Compare(2.5, 2))
	assert.Equal(t, 0, Compare(int32(4), uint8(4)))
	assert.Equal(t, -1, Compare("a", "b"))
	assert.Equal(t, -1, Compare(time.Unix(1, 0), time.Unix(2, 0)))
}

func TestLike(t *testing.T) {
	tests := []struct {
		value   any
		pattern string
		want    bool
	}{
		{"Item One", "Item%", true},
		{"Item One", "%One", true},
		{"Item One", "%em O%", true},
		{"Item One", "Item_One", true},
		{"Item One", "Item", false},
		{"", "%", true},
		{42, "4_", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Like(tt.value, tt.pattern), "%v LIKE %q", tt.value, tt.pattern)
	}
}
