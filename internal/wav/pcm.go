package wav

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DecodePCM16 interprets b as little-endian signed 16-bit samples. A trailing
// odd byte is dropped.
func DecodePCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// DecodeBase64PCM decodes a base64 payload of raw 16-bit PCM.
func DecodeBase64PCM(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode pcm payload: %w", err)
	}
	return DecodePCM16(raw), nil
}

// Duration reports the playback length of n mono samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
