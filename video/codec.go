package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"sort"
	"strings"
)

// These are the codec errors.
var (
	ErrUnknownCodec       = errors.New("unknown codec")
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	ErrFrameSizeMismatch  = errors.New("frame size does not match the video")
	errNotAnnexB          = errors.New("not an Annex B bitstream")
)

// FFmpegPath is the ffmpeg executable used by the ffmpeg-backed codecs.
var FFmpegPath = "ffmpeg"

// Codec names.
const (
	CodecMP4V = "mp4v"
	CodecAVC1 = "avc1"
	CodecMJPG = "mjpg"
)

// encoder turns frames into a finished file at a given path.
type encoder interface {
	WriteFrame(img *image.RGBA) error
	// Close finalizes the file.
	Close() error
	// Abort stops encoding; the file may be left incomplete.
	Abort() error
}

// Codec is an output format.
type Codec struct {
	Name        string
	Aliases     []string
	Extension   string // The container file extension, including the dot.
	Description string

	evenDimensions bool
	available      func() error
	create         func(ctx context.Context, filename string, width int, height int, fps float64) (encoder, error)
}

// EncodedSize returns the dimensions of the encoded video for frames of the given size.
//
// The yuv420p codecs pad odd dimensions up by one pixel (black); the others keep
// the frame size.
func (c *Codec) EncodedSize(width int, height int) (int, int) {
	if !c.evenDimensions {
		return width, height
	}
	return width + width%2, height + height%2
}

// Available returns an error if the codec cannot be used on this system.
func (c *Codec) Available() error {
	if c.available == nil {
		return nil
	}
	return c.available()
}

func ffmpegAvailable() error {
	_, err := exec.LookPath(FFmpegPath)
	if err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrEncoderUnavailable, FFmpegPath, err)
	}
	return nil
}

var codecs = []*Codec{
	{
		Name:           CodecMP4V,
		Extension:      ".mp4",
		Description:    "MPEG-4 Part 2 in MP4 (ffmpeg)",
		evenDimensions: true,
		available:      ffmpegAvailable,
		create:         newMP4VEncoder,
	},
	{
		Name:           CodecAVC1,
		Aliases:        []string{"h264", "x264"},
		Extension:      ".mp4",
		Description:    "H.264 in MP4 (ffmpeg/libx264, muxed in-process)",
		evenDimensions: true,
		available:      ffmpegAvailable,
		create:         newH264Encoder,
	},
	{
		Name:        CodecMJPG,
		Aliases:     []string{"mjpeg"},
		Extension:   ".avi",
		Description: "Motion JPEG in AVI",
		create:      newMJPEGEncoder,
	},
}

// LookupCodec finds a codec by name or alias (case insensitive).
func LookupCodec(name string) (*Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, codec := range codecs {
		if codec.Name == name {
			return codec, nil
		}
		for _, alias := range codec.Aliases {
			if alias == name {
				return codec, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q (can be one of: %s)", ErrUnknownCodec, name, strings.Join(CodecNames(), ", "))
}

// CodecNames returns the names of every codec, sorted.
func CodecNames() []string {
	names := []string{}
	for _, codec := range codecs {
		names = append(names, codec.Name)
	}
	sort.Strings(names)
	return names
}
