// Package audio implements the PCM codec boundary: base64 transport encoding
// and bit-exact conversion between 16-bit little-endian samples and
// normalized float32 samples.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed sample rates per direction: microphone capture upstream, generated
// speech downstream.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1
)

// EncodeBase64 encodes raw PCM bytes for JSON transport.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 decodes a base64 PCM payload.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio payload: %w", err)
	}
	return data, nil
}

// BytesToInt16 reinterprets little-endian PCM bytes as int16 samples.
// The byte length must be even.
func BytesToInt16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm byte length must be even, got %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// Int16ToBytes serializes int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Int16ToFloat32 maps each sample s to s/32768.0, the exact normalization
// the browser's audio worklet applies on its side.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 is the inverse mapping: multiply by 32768, round to
// nearest, clamp to the int16 range. Round-tripping int16 -> float32 ->
// int16 is exact except at the clamp boundary.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		v := math.Round(float64(f) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}
