package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "How OFTEN do I Water?", "how often do i water?"},
		{"collapses whitespace", "how  often\tdo\ni water?", "how often do i water?"},
		{"trims edges", "  hello world  ", "hello world"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.input))
		})
	}
}

func TestHashTextIsStable(t *testing.T) {
	a := HashText("how often do i water?")
	b := HashText("how often do i water?")
	c := HashText("different question")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestNormalizedVariantsShareHash(t *testing.T) {
	a := HashText(NormalizeText("How often do I water my monstera?"))
	b := HashText(NormalizeText("  how OFTEN do i water   my monstera?"))
	assert.Equal(t, a, b)
}
