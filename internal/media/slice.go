package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrSourceNotFound is returned when the file to process does not exist.
var ErrSourceNotFound = errors.New("source file not found")

// Slicer splits an audio file into two contiguous segments.
type Slicer struct {
	stat func(string) (os.FileInfo, error)
	log  zerolog.Logger
}

// NewSlicer builds a slicer backed by the local filesystem.
func NewSlicer(logger zerolog.Logger) *Slicer {
	return &Slicer{stat: os.Stat, log: logger}
}

// SlicePaths derives the output names by inserting "-before"/"-after"
// ahead of the source extension. MP3 is decode-only, so its segments are
// written as WAV.
func SlicePaths(src string) (before, after string) {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(src, ext)
	if Container(src) == "mp3" {
		ext = ".wav"
	}
	return base + "-before" + ext, base + "-after" + ext
}

// Slice writes the audio before and after splitMs into two files re-encoded
// in the source's container (WAV for MP3 sources). A split beyond the end
// yields an empty "after" segment.
func (s *Slicer) Slice(src string, splitMs int) (before, after string, err error) {
	if _, err := s.stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return "", "", fmt.Errorf("cannot access %s: %w", src, err)
	}
	if splitMs < 0 {
		return "", "", fmt.Errorf("split point must not be negative: %d", splitMs)
	}
	if c := Container(src); c != "wav" && c != "flac" && c != "mp3" {
		return "", "", fmt.Errorf("%w: cannot slice .%s", ErrUnsupportedContainer, c)
	}

	clip, err := Decode(src)
	if err != nil {
		return "", "", err
	}

	split := clip.FrameAt(splitMs)
	before, after = SlicePaths(src)

	if err := Encode(before, clip.Sub(0, split)); err != nil {
		return "", "", fmt.Errorf("write %s: %w", before, err)
	}
	if err := Encode(after, clip.Sub(split, clip.Frames())); err != nil {
		_ = os.Remove(before)
		return "", "", fmt.Errorf("write %s: %w", after, err)
	}

	s.log.Info().
		Str("source", src).
		Int("split_ms", splitMs).
		Str("before", before).
		Str("after", after).
		Msg("slice complete")
	return before, after, nil
}
