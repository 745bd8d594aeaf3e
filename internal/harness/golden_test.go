package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tdowney/isolab/internal/store/memstore"
)

func TestGoldenName(t *testing.T) {
	assert.Equal(t, "phantom-read", goldenName("phantom-read"))
	assert.Equal(t, "phantom-read", goldenName("phantom read"))
	// Combining sequence and precomposed form normalize to the same key.
	assert.Equal(t, goldenName("café"), goldenName("café"))
}

func TestCatalogGolden(t *testing.T) {
	r := New(memstore.Open(memstore.WithLockWait(10 * time.Millisecond)))
	for _, sc := range Catalog() {
		t.Run(sc.Name, func(t *testing.T) {
			result := RunWithGolden(t, r, sc)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
