package namematch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var operators = []string{"Alice Smith", "Bob Jones", "Carol White"}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Alice  Smith", " alice smith"))
	assert.False(t, Equal("Alice", "Alicia"))
}

func TestResolve_Exact(t *testing.T) {
	got, err := Resolve("bob jones", operators)
	require.NoError(t, err)
	assert.Equal(t, "Bob Jones", got)
}

func TestResolve_Subsequence(t *testing.T) {
	got, err := Resolve("carol", operators)
	require.NoError(t, err)
	assert.Equal(t, "Carol White", got)
}

func TestResolve_Typo(t *testing.T) {
	got, err := Resolve("Alcie Smith", operators)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", got)
}

func TestResolve_NoMatch(t *testing.T) {
	_, err := Resolve("zed", operators)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = Resolve("  ", operators)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_Ambiguous(t *testing.T) {
	_, err := Resolve("ann", []string{"Ann Lee", "Ann Kim"})
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestDistinct(t *testing.T) {
	got := Distinct([]string{"Alice", " alice ", "", "Bob"})
	assert.Equal(t, []string{"Alice", "Bob"}, got)
}
