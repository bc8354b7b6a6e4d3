package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTransactionReference(t *testing.T) {
	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < 1000; i++ {
		ref := NewTransactionReference()
		assert.True(t, strings.HasPrefix(ref, "TXN-"))
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
		assert.Greater(t, ref, prev)
		prev = ref
	}
}

func TestDeterministicReferences(t *testing.T) {
	assert.Equal(t, "PRF-12-7", ProfitReference(12, 7))
	assert.Equal(t, "REV-99", ReversalReference(99))
	assert.Equal(t, "MAT-5", MaturityReference(5))
}
