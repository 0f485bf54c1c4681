package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // Registers the JPEG decoder.
	_ "image/png"  // Registers the PNG decoder.
	"sort"
	"strings"
	"sync"
	"time"
)

// These are the decoding errors.
var (
	ErrUnsupportedEncoding = errors.New("unsupported pixel encoding")
	ErrShortBuffer         = errors.New("pixel buffer too short")
)

// Frame is a single decoded raster.
type Frame struct {
	Index     int    // The position of the frame in the output.
	Timestamp int64  // The source message timestamp (ns since the epoch).
	Encoding  string // The source pixel encoding or compressed format.
	Image     *image.RGBA
}

// Width returns the width of the frame, in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the height of the frame, in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Time returns the source message timestamp as a `time.Time`.
func (f *Frame) Time() time.Time {
	return time.Unix(0, f.Timestamp)
}

// DecodeFunc turns a raw pixel buffer into a raster.
//
// Step is the length of a row in bytes; zero means tightly packed rows.
type DecodeFunc func(data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error)

var (
	decodersLock sync.RWMutex
	decoders     = map[string]DecodeFunc{}
)

// Register adds (or replaces) the decoder for a pixel encoding.
func Register(encoding string, decode DecodeFunc) {
	decodersLock.Lock()
	defer decodersLock.Unlock()
	decoders[encoding] = decode
}

// Lookup returns the decoder for a pixel encoding.
func Lookup(encoding string) (DecodeFunc, bool) {
	decodersLock.RLock()
	defer decodersLock.RUnlock()
	decode, ok := decoders[encoding]
	return decode, ok
}

// Encodings returns the names of every registered pixel encoding, sorted.
func Encodings() []string {
	decodersLock.RLock()
	defer decodersLock.RUnlock()
	encodings := []string{}
	for encoding := range decoders {
		encodings = append(encodings, encoding)
	}
	sort.Strings(encodings)
	return encodings
}

// Decode decodes a raw pixel buffer using the decoder registered for its encoding.
func Decode(encoding string, data []byte, width int, height int, step int, bigEndian bool) (*image.RGBA, error) {
	decode, ok := Lookup(encoding)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
	return decode(data, width, height, step, bigEndian)
}

// DecodeCompressed decodes a `sensor_msgs/msg/CompressedImage` payload.
//
// The format is the message's format string, for example "jpeg" or "bgr8; png compressed bgr8".
func DecodeCompressed(format string, data []byte) (*image.RGBA, error) {
	if strings.Contains(format, "compressedDepth") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, format)
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode %q image: %w", format, err)
	}
	if rgba, ok := decoded.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}
	bounds := decoded.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decoded, bounds.Min, draw.Src)
	return rgba, nil
}

// rowStep validates the buffer geometry and returns the effective row length.
func rowStep(data []byte, width int, height int, step int, bytesPerPixel int) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	rowLength := width * bytesPerPixel
	if step == 0 {
		step = rowLength
	}
	if step < rowLength {
		return 0, fmt.Errorf("step %d is shorter than a row of %d bytes", step, rowLength)
	}
	// Compare without multiplying; the dimensions come straight from the message.
	if len(data) < rowLength || (height-1) > (len(data)-rowLength)/step {
		return 0, fmt.Errorf("%w: have %d bytes, not enough for %dx%d with a step of %d", ErrShortBuffer, len(data), width, height, step)
	}
	return step, nil
}
