package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMapper(t *testing.T) {
	m := StaticMapper(map[string][]byte{"seg": {1, 2, 3}})

	r, err := m("seg")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, r.Bytes())

	require.NoError(t, r.Close())
	assert.Nil(t, r.Bytes())
	assert.True(t, r.(*Buffer).Closed())

	_, err = m("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_MissingSegment(t *testing.T) {
	_, err := Open("neurallap-test-segment-that-does-not-exist")
	assert.Error(t, err)
}
