package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogIsValid(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, 5)

	seen := make(map[string]bool)
	for _, sc := range catalog {
		assert.NoError(t, sc.Validate(), sc.Name)
		assert.False(t, seen[sc.Name], "duplicate scenario name %s", sc.Name)
		seen[sc.Name] = true
	}
}

func TestCatalogReturnsFreshCopies(t *testing.T) {
	first := Catalog()
	first[0].Steps[0].Actor = "mutated"

	second := Catalog()
	assert.NotEqual(t, "mutated", second[0].Steps[0].Actor)
}

func TestLookup(t *testing.T) {
	sc, ok := Lookup("phantom-read")
	require.True(t, ok)
	assert.Equal(t, "phantom-read", sc.Name)

	_, ok = Lookup("unknown-scenario")
	assert.False(t, ok)
}
