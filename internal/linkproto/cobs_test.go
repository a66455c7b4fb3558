package linkproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOBS_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x00},
		{0x00, 0x00},
		{0x11, 0x22, 0x00, 0x33},
		{0x11, 0x22, 0x33, 0x44},
		bytes.Repeat([]byte{0xAB}, 254),
		bytes.Repeat([]byte{0xAB}, 300),
	}
	for _, in := range inputs {
		enc := cobsEncode(in)
		assert.NotContains(t, enc, byte(0x00))

		dec, err := cobsDecode(enc)
		require.NoError(t, err)
		assert.Equal(t, in, dec)
	}
}

func TestCOBS_KnownVectors(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x01}, cobsEncode([]byte{0x00}))
	assert.Equal(t, []byte{0x03, 0x11, 0x22, 0x02, 0x33}, cobsEncode([]byte{0x11, 0x22, 0x00, 0x33}))
}
