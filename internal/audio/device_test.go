package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		s      string
		substr string
		want   bool
	}{
		{"Monitor of Built-in Audio", "monitor", true},
		{"MONITOR", "monitor", true},
		{"monitor", "MONITOR", true},
		{"HDA Intel PCH Monitor", "monitor", true},
		{"Built-in Microphone", "microphone", true},
		{"External Speakers", "monitor", false},
		{"", "monitor", false},
		{"monitor", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			require.Equal(t, tt.want, containsIgnoreCase(tt.s, tt.substr))
		})
	}
}
