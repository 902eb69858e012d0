package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickInterval(t *testing.T) {
	tests := []struct {
		name    string
		rate    int
		want    time.Duration
		wantErr bool
	}{
		{name: "default", rate: 50, want: 20 * time.Millisecond},
		{name: "maximum", rate: maxRate, want: time.Microsecond},
		{name: "zero", rate: 0, wantErr: true},
		{name: "negative", rate: -5, wantErr: true},
		{name: "above maximum", rate: maxRate + 1, wantErr: true},
		{name: "beyond one per nanosecond", rate: 2_000_000_000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tickInterval(tt.rate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Positive(t, got)
		})
	}
}

func TestPlayerName(t *testing.T) {
	assert.Equal(t, "Ada1", playerName(0))
	assert.Equal(t, "Ada2", playerName(len(firstNames)))
}
