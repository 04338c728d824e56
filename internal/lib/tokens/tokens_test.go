package tokens

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	first, err := New()
	require.NoError(t, err)

	second, err := New()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestHash(t *testing.T) {
	h := Hash("abc")

	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash("abc"))
	assert.NotEqual(t, h, Hash("abd"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
