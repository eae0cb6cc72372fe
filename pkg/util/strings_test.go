package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloatLoose(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{"1.25%", 0.0125, true},
		{"-0.4%", -0.004, true},
		{"1,234", 1234, true},
		{"None", 0, false},
		{"", 0, false},
		{"-", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseFloatLoose(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.InDelta(t, c.want, got, 1e-12, c.in)
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitCSV(" a, ,b ,"))
	assert.Nil(t, SplitCSV("  "))
	assert.Equal(t, 7, ParseIntDefault("x", 7))
	assert.Equal(t, 3, ParseIntDefault("3", 7))
}
