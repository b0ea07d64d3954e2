package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

var errNotFrameStream = errors.New("not an mpeg audio frame stream")

// mp3Frames returns the audio frames of an MP3 file with ID3v2 and ID3v1
// tags removed.
func mp3Frames(data []byte) ([]byte, error) {
	if len(data) >= 10 && bytes.HasPrefix(data, []byte("ID3")) {
		size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
		skip := 10 + size
		if data[5]&0x10 != 0 {
			skip += 10
		}
		if skip > len(data) {
			return nil, fmt.Errorf("id3v2 tag overruns file")
		}
		data = data[skip:]
	}
	if len(data) >= 128 && bytes.Equal(data[len(data)-128:len(data)-125], []byte("TAG")) {
		data = data[:len(data)-128]
	}
	if len(data) < 2 || data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return nil, errNotFrameStream
	}
	return data, nil
}

func concatMP3(parts []string, dst string) error {
	var out bytes.Buffer
	for _, part := range parts {
		data, err := os.ReadFile(part)
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}
		frames, err := mp3Frames(data)
		if err != nil {
			return fmt.Errorf("%s: %w", part, err)
		}
		out.Write(frames)
	}
	if err := os.WriteFile(dst, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write merged mp3: %w", err)
	}
	return nil
}
