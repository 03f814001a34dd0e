// Package uuid provides unit tests for UUID generation and validation.
package uuid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	require.True(t, IsValid(id), id)

	parsed, err := Parse(id)
	require.NoError(t, err)
	assert.EqualValues(t, 4, parsed.Version())
}

// TestNewOrdered tests that NewOrdered() generates v7 ids that sort by time.
func TestNewOrdered(t *testing.T) {
	first := NewOrdered()
	time.Sleep(2 * time.Millisecond)
	second := NewOrdered()

	parsed, err := Parse(first)
	require.NoError(t, err)
	assert.EqualValues(t, 7, parsed.Version())
	assert.Less(t, first, second)
}

// TestNewUniqueness tests that generators never repeat.
func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		for _, id := range []string{New(), NewOrdered()} {
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
		}
	}
}

// TestNewOrdered_sortable tests that ids generated in sequence stay sorted.
func TestNewOrdered_sortable(t *testing.T) {
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, NewOrdered())
		time.Sleep(time.Millisecond)
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

// TestIsValid tests strict format validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"v4", "550e8400-e29b-41d4-a716-446655440000", true},
		{"v7", "01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"uppercase", "550E8400-E29B-41D4-A716-446655440000", true},
		{"empty", "", false},
		{"no dashes", "550e8400e29b41d4a716446655440000", false},
		{"bad variant", "550e8400-e29b-41d4-c716-446655440000", false},
		{"version zero", "550e8400-e29b-01d4-a716-446655440000", false},
		{"braces", "{550e8400-e29b-41d4-a716-446655440000}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.input))
			if tt.want {
				assert.NoError(t, Validate(tt.input))
			} else {
				assert.Error(t, Validate(tt.input))
			}
		})
	}
}

// TestParse_invalid tests that Parse rejects malformed ids.
func TestParse_invalid(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}
