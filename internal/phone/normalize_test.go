package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatted us number", "(408) 451-1400", "4084511400"},
		{"e164", "+1 408.451.1400", "14084511400"},
		{"extension suffix", "408-451-1400 x22", "408451140022"},
		{"empty", "", ""},
		{"no digits", "call me", ""},
		{"non-ascii digits dropped", "٤٠٨1234", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"", "(408) 451-1400", "+44 20 7946 0958", "abc", "1-800-FLOWERS", "٤٠٨"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestIsDialable(t *testing.T) {
	assert.True(t, IsDialable("4084511400"))
	assert.True(t, IsDialable("14084511400"))
	assert.False(t, IsDialable("451140"))
	assert.False(t, IsDialable(""))
}

func TestIsExtension(t *testing.T) {
	assert.True(t, IsExtension("9401"))
	assert.False(t, IsExtension("940"))
	assert.False(t, IsExtension("94011"))
	assert.False(t, IsExtension("94a1"))
	assert.False(t, IsExtension(" 940"))
}
