package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is an uncompressed integer sample buffer.
type PCM struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    []int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

func (p PCM) sameFormat(o PCM) bool {
	return p.SampleRate == o.SampleRate && p.Channels == o.Channels && p.BitDepth == o.BitDepth
}

func EncodeWAV(w io.WriteSeeker, pcm PCM) error {
	bitDepth := pcm.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: pcm.Channels, SampleRate: pcm.SampleRate},
		Data:           pcm.Samples,
		SourceBitDepth: bitDepth,
	}
	enc := wav.NewEncoder(w, pcm.SampleRate, bitDepth, pcm.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVBytes encodes pcm into an in-memory WAV file.
func WAVBytes(pcm PCM) ([]byte, error) {
	var buf writeSeeker
	if err := EncodeWAV(&buf, pcm); err != nil {
		return nil, err
	}
	return buf.data, nil
}

func WriteWAVFile(path string, pcm PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(f, pcm); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ReadWAVFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	return PCM{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Samples:    buf.Data,
	}, nil
}

// Duration reports the playback length of a WAV file.
func Duration(path string) (time.Duration, error) {
	pcm, err := ReadWAVFile(path)
	if err != nil {
		return 0, err
	}
	return pcm.Duration(), nil
}

// Tone renders a 16-bit mono sine wave.
func Tone(d time.Duration, sampleRate int, freq float64) PCM {
	n := int(d.Seconds() * float64(sampleRate))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 0.3 * math.MaxInt16)
	}
	return PCM{SampleRate: sampleRate, Channels: 1, BitDepth: 16, Samples: samples}
}

func concatWAV(parts []string, dst string) error {
	var merged PCM
	for i, part := range parts {
		pcm, err := ReadWAVFile(part)
		if err != nil {
			return err
		}
		if i == 0 {
			merged = pcm
			merged.Samples = append([]int(nil), pcm.Samples...)
			continue
		}
		if !merged.sameFormat(pcm) {
			return fmt.Errorf("%s: wav format mismatch (%d Hz/%d ch/%d bit vs %d Hz/%d ch/%d bit)", part,
				pcm.SampleRate, pcm.Channels, pcm.BitDepth, merged.SampleRate, merged.Channels, merged.BitDepth)
		}
		merged.Samples = append(merged.Samples, pcm.Samples...)
	}
	return WriteWAVFile(dst, merged)
}

// writeSeeker is a growable in-memory io.WriteSeeker.
type writeSeeker struct {
	data []byte
	pos  int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.data) {
		if end > cap(w.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.data)
			w.data = grown
		} else {
			w.data = w.data[:end]
		}
	}
	copy(w.data[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.data))
	default:
		return 0, errors.New("seek: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	w.pos = int(next)
	return next, nil
}
