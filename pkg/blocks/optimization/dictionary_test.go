package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictionaryEncodingSameValueSameCode(t *testing.T) {
	d := NewDictionaryEncoding("de-1")
	require.NoError(t, d.Initialize(map[string]any{"column": "status", "max_dictionary_size": 100}))

	c1, ok1 := d.Encode("active")
	c2, ok2 := d.Encode("active")
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, c1, c2)
}

func TestDictionaryEncodingSequentialCodes(t *testing.T) {
	d := NewDictionaryEncoding("de-2")
	c1, _ := d.Encode("a")
	c2, _ := d.Encode("b")
	assert.Equal(t, 0, c1)
	assert.Equal(t, 1, c2)
}

func TestDictionaryEncodingFullPassesThrough(t *testing.T) {
	d := NewDictionaryEncoding("de-3")
	require.NoError(t, d.Initialize(map[string]any{"max_dictionary_size": 2}))

	d.Encode("a")
	d.Encode("b")
	_, ok := d.Encode("c")

	assert.False(t, ok, "dictionary at capacity must pass new values through uncompressed")
	assert.Equal(t, 1, d.dictionaryFullEvents)
}

func TestDictionaryEncodingStateRoundTrip(t *testing.T) {
	d := NewDictionaryEncoding("de-4")
	d.Encode("x")
	d.Encode("y")

	snap := d.GetState()
	d2 := NewDictionaryEncoding("de-4")
	require.NoError(t, d2.SetState(snap))

	c, ok := d2.Encode("x")
	assert.True(t, ok)
	assert.Equal(t, 0, c)
}
