package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesRoundTrip(t *testing.T) {
	t.Parallel()

	raw := make([]byte, Size)
	for i := range raw {
		raw[i] = byte(i)
	}
	g, err := FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, g.Bytes())
}

func TestFromBytesWrongLength(t *testing.T) {
	t.Parallel()

	_, err := FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	g := Random()
	decoded, err := FromHex(g.String())
	require.NoError(t, err)
	assert.True(t, g.Equal(decoded))
}

func TestXorSelfIsZero(t *testing.T) {
	t.Parallel()

	g := Random()
	assert.True(t, g.Xor(g).IsZero())
}

func TestXorCommutative(t *testing.T) {
	t.Parallel()

	a, b := Random(), Random()
	assert.Equal(t, a.Xor(b), b.Xor(a))
}

func TestCloserToOrdering(t *testing.T) {
	t.Parallel()

	target := Zero
	near, err := FromBytes(append([]byte{0x00}, make([]byte, Size-1)...))
	require.NoError(t, err)
	farBytes := make([]byte, Size)
	farBytes[0] = 0xff
	far, err := FromBytes(farBytes)
	require.NoError(t, err)

	assert.True(t, near.CloserTo(target, far))
	assert.False(t, far.CloserTo(target, near))
}

func TestLessIsStrictAndOrdersByValue(t *testing.T) {
	t.Parallel()

	a, err := FromBytes(append([]byte{0x00, 0x01}, make([]byte, Size-2)...))
	require.NoError(t, err)
	b, err := FromBytes(append([]byte{0x00, 0x02}, make([]byte, Size-2)...))
	require.NoError(t, err)

	assert.False(t, a.Less(a))
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestPrefixLen(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		byte0    byte
		expected int
	}{
		{"msb set", 0x80, 0},
		{"second bit", 0x40, 1},
		{"third bit", 0x20, 2},
		{"all zero first byte", 0x00, 8},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			raw := make([]byte, Size)
			raw[0] = tc.byte0
			g, err := FromBytes(raw)
			require.NoError(t, err)
			if tc.byte0 == 0x00 {
				assert.GreaterOrEqual(t, g.PrefixLen(), tc.expected)
			} else {
				assert.Equal(t, tc.expected, g.PrefixLen())
			}
		})
	}
}

func TestBit(t *testing.T) {
	t.Parallel()

	raw := make([]byte, Size)
	raw[0] = 0x80 // msb of first byte set
	g, err := FromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, 1, g.Bit(0))
	assert.Equal(t, 0, g.Bit(1))
}

func TestRandomIsNotZero(t *testing.T) {
	t.Parallel()

	// Astronomically unlikely to collide with zero; guards against a
	// broken rand.Read wiring.
	assert.False(t, Random().IsZero())
}
