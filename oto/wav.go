package oto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadWAV reads a RIFF PCM wave file into stereo planes at the target sample
// rate. Only uncompressed 8- and 16-bit PCM is handled here; anything else is
// the caller's cue to fall back to a silent voice. No decoding library ships
// with the module on purpose; the chart ecosystem is overwhelmingly plain PCM.
func LoadWAV(baseDir, path string, targetRate int) ([2][]float32, error) {
	var planes [2][]float32
	data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(path)))
	if err != nil {
		return planes, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return planes, errors.New("not a RIFF wave file")
	}

	var (
		format, channels, bits int
		rate                   int
		pcm                    []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8:]
		if size > len(body) {
			size = len(body)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return planes, errors.New("truncated fmt chunk")
			}
			format = int(binary.LittleEndian.Uint16(body[0:2]))
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			pcm = body[:size]
		}
		pos += 8 + size
		if size%2 == 1 {
			pos++ // chunks are word aligned
		}
	}
	if pcm == nil {
		return planes, errors.New("wave file has no data chunk")
	}
	if format != 1 {
		return planes, fmt.Errorf("unsupported wave format %d (only PCM)", format)
	}
	if channels < 1 || channels > 2 {
		return planes, fmt.Errorf("unsupported channel count %d", channels)
	}
	if bits != 8 && bits != 16 {
		return planes, fmt.Errorf("unsupported bit depth %d", bits)
	}

	bytesPerFrame := channels * bits / 8
	frames := len(pcm) / bytesPerFrame
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		off := i * bytesPerFrame
		left[i] = pcmSample(pcm, off, bits)
		if channels == 2 {
			right[i] = pcmSample(pcm, off+bits/8, bits)
		} else {
			right[i] = left[i]
		}
	}
	if rate != targetRate && rate > 0 {
		left = resample(left, rate, targetRate)
		right = resample(right, rate, targetRate)
	}
	planes[0], planes[1] = left, right
	return planes, nil
}

func pcmSample(pcm []byte, off, bits int) float32 {
	if bits == 8 {
		// 8-bit wave is unsigned, midpoint 128.
		return (float32(pcm[off]) - 128) / 128
	}
	return float32(int16(binary.LittleEndian.Uint16(pcm[off:off+2]))) / 32768
}

// resample converts between rates with linear interpolation, plenty for
// one-shot drum samples.
func resample(in []float32, from, to int) []float32 {
	if len(in) == 0 {
		return in
	}
	outLen := int(float64(len(in)) * float64(to) / float64(from))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
