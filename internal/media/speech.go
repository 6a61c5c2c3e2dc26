package media

import "fmt"

// Speech models take mono 16-bit PCM at 16 kHz.
const (
	SpeechSampleRate = 16000
	SpeechBitDepth   = 16
)

// ToSpeech converts c to mono, 16-bit, 16 kHz. Channels are averaged and the
// rate is converted by linear interpolation.
func ToSpeech(c *Clip) (*Clip, error) {
	if c.Channels <= 0 || c.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid clip format: %d ch @ %d Hz", c.Channels, c.SampleRate)
	}

	mono := make([]int, c.Frames())
	for i := range mono {
		sum := 0
		for ch := 0; ch < c.Channels; ch++ {
			sum += to16(c.Data[i*c.Channels+ch], c.BitDepth)
		}
		mono[i] = sum / c.Channels
	}

	return &Clip{
		SampleRate: SpeechSampleRate,
		Channels:   1,
		BitDepth:   SpeechBitDepth,
		Data:       resample(mono, c.SampleRate, SpeechSampleRate),
	}, nil
}

// Float32 scales 16-bit samples into [-1, 1).
func Float32(c *Clip) []float32 {
	const maxInt16 = 32768.0
	out := make([]float32, len(c.Data))
	for i, s := range c.Data {
		out[i] = float32(s) / maxInt16
	}
	return out
}

// LoadSpeechSamples decodes path and returns normalized float32 mono 16 kHz samples.
func LoadSpeechSamples(path string) ([]float32, error) {
	clip, err := Decode(path)
	if err != nil {
		return nil, err
	}
	speech, err := ToSpeech(clip)
	if err != nil {
		return nil, err
	}
	return Float32(speech), nil
}

// WriteSpeechWAV decodes src and writes a mono 16 kHz 16-bit WAV to dst.
func WriteSpeechWAV(src, dst string) error {
	clip, err := Decode(src)
	if err != nil {
		return err
	}
	speech, err := ToSpeech(clip)
	if err != nil {
		return err
	}
	return encodeWAV(dst, speech)
}

// to16 rescales one sample to signed 16-bit range. go-audio reports 8-bit
// WAV samples unsigned, centred on 128.
func to16(v, depth int) int {
	switch {
	case depth == 8:
		return (v - 128) << 8
	case depth > 16:
		return v >> (depth - 16)
	case depth < 16 && depth > 0:
		return v << (16 - depth)
	default:
		return v
	}
}

func resample(in []int, from, to int) []int {
	if from == to || len(in) == 0 {
		out := make([]int, len(in))
		copy(out, in)
		return out
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(float64(in[j]) + frac*float64(in[j+1]-in[j]))
	}
	return out
}
