package dialogue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePreference(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	// Monday 2 June 2025, 10:00 local.
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, loc)

	tests := []struct {
		text    string
		want    time.Time
		matched bool
	}{
		{"amanhã de manhã", time.Date(2025, 6, 3, 9, 0, 0, 0, loc), true},
		{"sexta à tarde", time.Date(2025, 6, 6, 14, 0, 0, 0, loc), true},
		{"segunda à noite", time.Date(2025, 6, 9, 18, 0, 0, 0, loc), true},
		{"hoje às 15h30", time.Date(2025, 6, 2, 15, 30, 0, 0, loc), true},
		{"hoje de manhã", time.Date(2025, 6, 3, 9, 0, 0, 0, loc), true},
		{"10/06 às 16:00", time.Date(2025, 6, 10, 16, 0, 0, 0, loc), true},
		{"tomorrow afternoon", time.Date(2025, 6, 3, 14, 0, 0, 0, loc), true},
		{"qualquer dia", time.Date(2025, 6, 3, 10, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ParsePreference(tt.text, now, loc)
			assert.True(t, tt.want.Equal(got.Start), "got %s want %s", got.Start, tt.want)
			assert.Equal(t, tt.matched, got.Matched)
		})
	}
}

func TestFormatSlot(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	assert.Equal(t, "terça-feira, 03/06 às 14:00", FormatSlot(time.Date(2025, 6, 3, 14, 0, 0, 0, loc)))
}
