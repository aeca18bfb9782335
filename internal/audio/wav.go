package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// Capture format used by every built-in recorder.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file,
// truncating any existing content at path.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Silence returns the given duration of PCM16LE mono silence.
func Silence(seconds float64, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	n := int(seconds * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	return make([]byte, n*2)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * Channels * BitsPerSample / 8)
	blockAlign := uint16(Channels * BitsPerSample / 8)

	w := bufio.NewWriter(out)
	fields := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(Channels), uint32(sampleRate),
		byteRate, blockAlign, uint16(BitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Info describes a parsed WAV header.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// HasSamples reports whether the data chunk carries any audio.
func (i Info) HasSamples() bool { return i.DataSize > 0 }

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// Inspect walks the RIFF chunks of b and reports the fmt and data details.
// A truncated data chunk reports the bytes actually present.
func Inspect(b []byte) (Info, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}
	var info Info
	sawFmt := false
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return Info{}, ErrNotWAV
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			sawFmt = true
		case "data":
			avail := len(b) - body
			if size < 0 || size > avail {
				size = avail
			}
			info.DataSize = size
			if !sawFmt {
				return Info{}, ErrNotWAV
			}
			return info, nil
		}
		if size < 0 {
			return Info{}, ErrNotWAV
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	if !sawFmt {
		return Info{}, ErrNotWAV
	}
	return info, nil
}
