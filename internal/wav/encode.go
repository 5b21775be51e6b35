package wav

import "encoding/binary"

const (
	// HeaderSize is the size of the canonical PCM header written by Encode.
	HeaderSize = 44

	channels      = 1
	bitsPerSample = 16
	blockAlign    = channels * bitsPerSample / 8

	chunkRIFF = 0x52494646 // "RIFF"
	chunkWAVE = 0x57415645 // "WAVE"
	chunkFmt  = 0x666d7420 // "fmt "
	chunkData = 0x64617461 // "data"
)

// Encode packs 16-bit mono PCM samples into a WAV container.
func Encode(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * blockAlign
	buf := make([]byte, HeaderSize+dataLen)

	be := binary.BigEndian
	le := binary.LittleEndian

	be.PutUint32(buf[0:], chunkRIFF)
	le.PutUint32(buf[4:], uint32(36+dataLen))
	be.PutUint32(buf[8:], chunkWAVE)

	be.PutUint32(buf[12:], chunkFmt)
	le.PutUint32(buf[16:], 16)
	le.PutUint16(buf[20:], 1)
	le.PutUint16(buf[22:], channels)
	le.PutUint32(buf[24:], uint32(sampleRate))
	le.PutUint32(buf[28:], uint32(sampleRate*blockAlign))
	le.PutUint16(buf[32:], blockAlign)
	le.PutUint16(buf[34:], bitsPerSample)

	be.PutUint32(buf[36:], chunkData)
	le.PutUint32(buf[40:], uint32(dataLen))

	offset := HeaderSize
	for _, s := range samples {
		le.PutUint16(buf[offset:], uint16(s))
		offset += 2
	}
	return buf
}
