package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseBundle(t *testing.T) {
	raw := `{
		"version": "2024.10.1",
		"games": [{"id": "elden-ring", "title": "Elden Ring"}, {"title": "no id"}, "junk"],
		"guides": [{"id": 7, "title": "Margit", "page": "guides/margit.html"}],
		"topics": {"not": "an array"}
	}`

	b, err := parseBundle([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "2024.10.1", b.Version)
	require.Len(t, b.Games, 1)
	assert.Equal(t, "elden-ring", b.Games[0].ID())
	require.Len(t, b.Guides, 1)
	assert.Equal(t, "7", b.Guides[0].ID())
	assert.Equal(t, "guides/margit.html", b.Guides[0].Page())
	assert.Empty(t, b.Topics)
}

func Test_parseBundle_NumericVersion(t *testing.T) {
	b, err := parseBundle([]byte(`{"version": 12}`))
	require.NoError(t, err)
	assert.Equal(t, "12", b.Version)
}

func Test_parseBundle_Invalid(t *testing.T) {
	_, err := parseBundle([]byte(`[1, 2]`))
	assert.Error(t, err)

	_, err = parseBundle([]byte(`{`))
	assert.Error(t, err)
}
