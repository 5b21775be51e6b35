package wav

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a WAV stream as read back from its header.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	AudioFormat   int
	DataBytes     int
	Duration      time.Duration
}

var ErrInvalidWAV = errors.New("not a valid wav stream")

// Inspect reads the header of a WAV stream and leaves r positioned at the
// start of the sample data.
func Inspect(r io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(r)
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if dec.NumChans == 0 || dec.BitDepth == 0 || dec.SampleRate == 0 {
		return Info{}, ErrInvalidWAV
	}
	info := Info{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		AudioFormat:   int(dec.WavAudioFormat),
		DataBytes:     int(dec.PCMLen()),
	}
	frameBytes := info.Channels * info.BitsPerSample / 8
	if frameBytes > 0 {
		info.Duration = Duration(info.DataBytes/frameBytes, info.SampleRate)
	}
	return info, nil
}
