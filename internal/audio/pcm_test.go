package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64RoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x01, 0xFF, 0x7F, 0x00, 0x80}

	decoded, err := DecodeBase64(EncodeBase64(pcm))

	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

func TestDecodeBase64_Invalid(t *testing.T) {
	_, err := DecodeBase64("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestBytesToInt16_LittleEndian(t *testing.T) {
	// 0x0100 = 256, 0x7FFF = 32767, 0x8000 = -32768
	pcm := []byte{0x00, 0x01, 0xFF, 0x7F, 0x00, 0x80}

	samples, err := BytesToInt16(pcm)

	require.NoError(t, err)
	assert.Equal(t, []int16{256, 32767, -32768}, samples)
}

func TestBytesToInt16_OddLength(t *testing.T) {
	_, err := BytesToInt16([]byte{0x00, 0x01, 0xFF})
	assert.Error(t, err)
}

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 1000, -1000, math.MaxInt16, math.MinInt16}

	back, err := BytesToInt16(Int16ToBytes(samples))

	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func TestInt16ToFloat32_Normalization(t *testing.T) {
	samples := []int16{0, 16384, -16384, math.MaxInt16, math.MinInt16}

	out := Int16ToFloat32(samples)

	assert.Equal(t, float32(0), out[0])
	assert.Equal(t, float32(0.5), out[1])
	assert.Equal(t, float32(-0.5), out[2])
	assert.InDelta(t, 0.99997, out[3], 0.0001)
	assert.Equal(t, float32(-1.0), out[4])
}

func TestFloat32RoundTrip_Exact(t *testing.T) {
	// Every representable int16 survives the float32 round trip exactly:
	// int16 values are well within float32's 24-bit mantissa.
	samples := make([]int16, 0, 65536)
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		samples = append(samples, int16(v))
	}

	back := Float32ToInt16(Int16ToFloat32(samples))

	assert.Equal(t, samples, back)
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	out := Float32ToInt16([]float32{1.5, -1.5, 1.0, -1.0})

	assert.Equal(t, int16(math.MaxInt16), out[0])
	assert.Equal(t, int16(math.MinInt16), out[1])
	// +1.0 maps to 32768 before clamping.
	assert.Equal(t, int16(math.MaxInt16), out[2])
	assert.Equal(t, int16(math.MinInt16), out[3])
}

func TestFloat32ToInt16_RoundsToNearest(t *testing.T) {
	// 0.4/32768 and 0.6/32768 straddle the rounding threshold.
	out := Float32ToInt16([]float32{0.4 / 32768.0, 0.6 / 32768.0, -0.6 / 32768.0})

	assert.Equal(t, []int16{0, 1, -1}, out)
}
