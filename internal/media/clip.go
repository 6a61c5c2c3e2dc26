package media

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// ErrUnsupportedContainer is returned for file types the codecs here cannot handle.
var ErrUnsupportedContainer = errors.New("unsupported audio container")

// Clip is decoded integer PCM with interleaved channels.
type Clip struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Data       []int
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Data) / c.Channels
}

// Duration returns the playback length.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// FrameAt converts a millisecond offset into a frame index clamped to the clip.
func (c *Clip) FrameAt(ms int) int {
	if ms <= 0 {
		return 0
	}
	frame := int(int64(ms) * int64(c.SampleRate) / 1000)
	if n := c.Frames(); frame > n {
		return n
	}
	return frame
}

// Sub returns frames [start, end) as a new clip sharing no memory with c.
func (c *Clip) Sub(start, end int) *Clip {
	data := make([]int, (end-start)*c.Channels)
	copy(data, c.Data[start*c.Channels:end*c.Channels])
	return &Clip{SampleRate: c.SampleRate, Channels: c.Channels, BitDepth: c.BitDepth, Data: data}
}

// Container returns the lower-cased extension without the dot.
func Container(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Decode reads a WAV, FLAC or MP3 file into memory.
func Decode(path string) (*Clip, error) {
	switch Container(path) {
	case "wav":
		return decodeWAV(path)
	case "flac":
		return decodeFLAC(path)
	case "mp3":
		return decodeMP3(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, filepath.Ext(path))
	}
}

// Encode writes c to path in the container named by its extension.
// MP3 is decode-only.
func Encode(path string, c *Clip) error {
	switch Container(path) {
	case "wav":
		return encodeWAV(path, c)
	case "flac":
		return encodeFLAC(path, c)
	default:
		return fmt.Errorf("%w: cannot write %s", ErrUnsupportedContainer, filepath.Ext(path))
	}
}

func decodeWAV(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: WAV audio format %d (only PCM)", ErrUnsupportedContainer, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV: %w", err)
	}

	return &Clip{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Data:       buf.Data,
	}, nil
}

func encodeWAV(path string, c *Clip) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	encoder := wav.NewEncoder(file, c.SampleRate, c.BitDepth, c.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Data:           c.Data,
		SourceBitDepth: c.BitDepth,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("write WAV samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return file.Close()
}

func decodeFLAC(path string) (*Clip, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	defer stream.Close()

	clip := &Clip{
		SampleRate: int(stream.Info.SampleRate),
		Channels:   int(stream.Info.NChannels),
		BitDepth:   int(stream.Info.BitsPerSample),
		Data:       make([]int, 0, int(stream.Info.NSamples)*int(stream.Info.NChannels)),
	}

	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode FLAC frame: %w", err)
		}
		n := f.Subframes[0].NSamples
		for i := 0; i < n; i++ {
			for _, sub := range f.Subframes {
				clip.Data = append(clip.Data, int(sub.Samples[i]))
			}
		}
	}

	return clip, nil
}

const flacBlockSize = 4096

// streamWriter hides Seek from the FLAC encoder so Close keeps the
// StreamInfo written up front. The encoder otherwise records the short last
// block as the minimum block size, which decoders reject below 16.
type streamWriter struct{ io.Writer }

func encodeFLAC(path string, c *Clip) error {
	if c.Channels < 1 || c.Channels > 8 {
		return fmt.Errorf("%w: FLAC supports 1-8 channels, got %d", ErrUnsupportedContainer, c.Channels)
	}

	// frame.Channels enumerates the independent layouts in channel-count order.
	layout := frame.Channels(c.Channels - 1)
	total := c.Frames()
	frames := make([]*frame.Frame, 0, (total+flacBlockSize-1)/flacBlockSize)
	sum := md5.New()
	for start := 0; start < total; start += flacBlockSize {
		end := min(start+flacBlockSize, total)
		n := end - start

		subframes := make([]*frame.Subframe, c.Channels)
		for ch := range subframes {
			samples := make([]int32, n)
			for i := 0; i < n; i++ {
				samples[i] = int32(c.Data[(start+i)*c.Channels+ch])
			}
			subframes[ch] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
				NSamples:  n,
			}
		}

		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        uint32(c.SampleRate),
				Channels:          layout,
				BitsPerSample:     uint8(c.BitDepth),
			},
			Subframes: subframes,
		}
		f.Hash(sum)
		frames = append(frames, f)
	}

	// Block sizes describe every block but the last, so an empty or short
	// clip still advertises the nominal size.
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(c.SampleRate),
		NChannels:     uint8(c.Channels),
		BitsPerSample: uint8(c.BitDepth),
		NSamples:      uint64(total),
	}
	copy(info.MD5sum[:], sum.Sum(nil))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	enc, err := flac.NewEncoder(streamWriter{file}, info)
	if err != nil {
		return fmt.Errorf("creating flac encoder: %w", err)
	}
	for _, f := range frames {
		if err := enc.WriteFrame(f); err != nil {
			return fmt.Errorf("writing flac frame: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize flac: %w", err)
	}
	return file.Close()
}

func decodeMP3(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	// go-mp3 always emits signed 16-bit little-endian stereo.
	data := make([]int, len(raw)/2)
	for i := range data {
		data[i] = int(int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8))
	}

	return &Clip{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		BitDepth:   16,
		Data:       data,
	}, nil
}
