package refnum

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormat(t *testing.T) {
	re := regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{8}$`)
	for i := 0; i < 10; i++ {
		assert.Regexp(t, re, New("ORD"))
	}
}

func TestNewUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n := New("PAY")
		assert.False(t, seen[n], "duplicate reference number %s", n)
		seen[n] = true
	}
}
