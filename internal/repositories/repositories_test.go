package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BRK-100", "BRK-100"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`c:\parts`, `c:\\parts`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, escapeLike(tt.in))
	}
}
