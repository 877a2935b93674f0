package rooms

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDirectory(t *testing.T) {
	dir := Directory()
	require.Len(t, dir, 4)
	require.Equal(t, "general", dir[0].ID)

	dir[0].Name = "changed"
	d, ok := Lookup("general")
	require.True(t, ok)
	require.Equal(t, "General", d.Name)

	_, ok = Lookup("missing")
	require.False(t, ok)
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"general", true},
		{"room_1729250000000", true},
		{"a-b", true},
		{"", false},
		{"a/b", false},
		{"with space", false},
		{strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidID(tt.id)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidID)
			}
		})
	}
}

func TestNewCustom(t *testing.T) {
	now := time.UnixMilli(1729250000123)
	d := NewCustom(now, rand.New(rand.NewPCG(7, 7)))
	require.Equal(t, "room_1729250000123", d.ID)
	require.True(t, strings.HasPrefix(d.Name, "New room "))
	require.Len(t, strings.TrimPrefix(d.Name, "New room "), 4)
	require.NoError(t, ValidID(d.ID))
}
