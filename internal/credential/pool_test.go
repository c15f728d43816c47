package credential

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegym/ai_gateway/internal/testhelpers"
)

func TestDiscover_BaseAndNumbered(t *testing.T) {
	lookup := testhelpers.EnvLookup(map[string]string{
		"GEMINI_API_KEY":   "key-base",
		"GEMINI_API_KEY_1": "key-one",
		"GEMINI_API_KEY_2": "key-two",
	})

	pool := Discover(lookup, "GEMINI_API_KEY", 10)

	require.Equal(t, 3, pool.Size())
	assert.Equal(t, []string{"GEMINI_API_KEY", "GEMINI_API_KEY_1", "GEMINI_API_KEY_2"}, pool.Names())
	assert.Equal(t, "key-base", pool.Get(0).Secret)
}

func TestDiscover_GapsAreSkipped(t *testing.T) {
	// _2 is missing; _3 must still be found.
	lookup := testhelpers.EnvLookup(map[string]string{
		"GEMINI_API_KEY_1": "key-one",
		"GEMINI_API_KEY_3": "key-three",
	})

	pool := Discover(lookup, "GEMINI_API_KEY", 10)

	require.Equal(t, 2, pool.Size())
	assert.Equal(t, []string{"GEMINI_API_KEY_1", "GEMINI_API_KEY_3"}, pool.Names())
}

func TestDiscover_EmptyValuesIgnored(t *testing.T) {
	lookup := testhelpers.EnvLookup(map[string]string{
		"GEMINI_API_KEY":   "",
		"GEMINI_API_KEY_1": "key-one",
	})

	pool := Discover(lookup, "GEMINI_API_KEY", 10)

	require.Equal(t, 1, pool.Size())
	assert.Equal(t, "GEMINI_API_KEY_1", pool.Get(0).Name)
}

func TestDiscover_NoCredentials(t *testing.T) {
	pool := Discover(testhelpers.EnvLookup(nil), "GEMINI_API_KEY", 10)

	assert.Equal(t, 0, pool.Size())
	assert.Empty(t, pool.Names())
}

func TestDiscover_RespectsMax(t *testing.T) {
	vars := make(map[string]string)
	for i := 1; i <= 20; i++ {
		vars[fmt.Sprintf("GEMINI_API_KEY_%d", i)] = fmt.Sprintf("key-%d", i)
	}

	pool := Discover(testhelpers.EnvLookup(vars), "GEMINI_API_KEY", 5)

	assert.Equal(t, 5, pool.Size())
}

func TestByName(t *testing.T) {
	lookup := testhelpers.EnvLookup(map[string]string{
		"GEMINI_API_KEY_1": "key-one",
	})
	pool := Discover(lookup, "GEMINI_API_KEY", 5)

	cred, ok := pool.ByName("GEMINI_API_KEY_1")
	require.True(t, ok)
	assert.Equal(t, "key-one", cred.Secret)

	_, ok = pool.ByName("GEMINI_API_KEY_9")
	assert.False(t, ok)
}
