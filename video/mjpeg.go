package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"

	"github.com/tekkamanendless/rosbag-extractor/riff"
)

// JPEGQuality is the quality used for Motion JPEG frames.
var JPEGQuality = 90

type mjpegEncoder struct {
	handle *os.File
	writer *riff.Writer
	width  int
	height int
	buffer bytes.Buffer
}

func newMJPEGEncoder(ctx context.Context, filename string, width int, height int, fps float64) (encoder, error) {
	rate, scale := rationalFrameRate(fps)

	handle, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not create file: %w", err)
	}
	writer, err := riff.NewVideoWriter(handle, int32(width), int32(height), rate, scale, [4]byte{'M', 'J', 'P', 'G'})
	if err != nil {
		handle.Close()
		return nil, err
	}
	return &mjpegEncoder{
		handle: handle,
		writer: writer,
		width:  width,
		height: height,
	}, nil
}

func (e *mjpegEncoder) WriteFrame(img *image.RGBA) error {
	bounds := img.Bounds()
	if bounds.Dx() != e.width || bounds.Dy() != e.height {
		return fmt.Errorf("%w: got %dx%d, expected %dx%d", ErrFrameSizeMismatch, bounds.Dx(), bounds.Dy(), e.width, e.height)
	}

	e.buffer.Reset()
	err := jpeg.Encode(&e.buffer, img, &jpeg.Options{Quality: JPEGQuality})
	if err != nil {
		return fmt.Errorf("could not encode JPEG: %w", err)
	}
	return e.writer.WriteFrame(e.buffer.Bytes(), true)
}

func (e *mjpegEncoder) Close() error {
	err := e.writer.Close()
	if err != nil {
		e.handle.Close()
		return fmt.Errorf("could not finalize AVI: %w", err)
	}
	return e.handle.Close()
}

func (e *mjpegEncoder) Abort() error {
	return e.handle.Close()
}

// rationalFrameRate turns a frame rate into the rate/scale pair used by AVI headers.
func rationalFrameRate(fps float64) (int32, int32) {
	if fps == math.Trunc(fps) {
		return int32(fps), 1
	}
	return int32(math.Round(fps * 1000)), 1000
}
