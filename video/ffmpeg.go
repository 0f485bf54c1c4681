package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegEncoder pipes raw RGB24 frames into an ffmpeg process.
type ffmpegEncoder struct {
	command *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	width   int
	height  int
	buffer  []byte
	done    bool
}

// startFFmpeg starts ffmpeg reading raw frames from stdin; outputArguments describe
// the encoding and the destination.
func startFFmpeg(ctx context.Context, width int, height int, fps float64, outputArguments ...string) (*ffmpegEncoder, error) {
	err := ffmpegAvailable()
	if err != nil {
		return nil, err
	}

	arguments := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
	}
	if width%2 != 0 || height%2 != 0 {
		// yuv420p needs even dimensions; see Codec.EncodedSize.
		arguments = append(arguments, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	}
	arguments = append(arguments, outputArguments...)
	logger.Debugf("Running: %s %s", FFmpegPath, strings.Join(arguments, " "))

	e := &ffmpegEncoder{
		command: exec.CommandContext(ctx, FFmpegPath, arguments...),
		stderr:  new(bytes.Buffer),
		width:   width,
		height:  height,
		buffer:  make([]byte, width*height*3),
	}
	e.command.Stderr = e.stderr
	e.stdin, err = e.command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not create ffmpeg pipe: %w", err)
	}
	err = e.command.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: could not start ffmpeg: %v", ErrEncoderUnavailable, err)
	}
	return e, nil
}

func (e *ffmpegEncoder) WriteFrame(img *image.RGBA) error {
	if e.done {
		return fmt.Errorf("encoder is closed")
	}
	bounds := img.Bounds()
	if bounds.Dx() != e.width || bounds.Dy() != e.height {
		return fmt.Errorf("%w: got %dx%d, expected %dx%d", ErrFrameSizeMismatch, bounds.Dx(), bounds.Dy(), e.width, e.height)
	}

	toRGB24(e.buffer, img)
	_, err := e.stdin.Write(e.buffer)
	if err != nil {
		// ffmpeg has gone away; its error output is only safe to read once it has been waited on.
		e.Abort()
		return fmt.Errorf("could not write frame to ffmpeg: %w%s", err, e.output())
	}
	return nil
}

func (e *ffmpegEncoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true

	err := e.stdin.Close()
	if err != nil {
		logger.Warnf("Could not close ffmpeg input: %v", err)
	}
	err = e.command.Wait()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w%s", err, e.output())
	}
	return nil
}

func (e *ffmpegEncoder) Abort() error {
	if e.done {
		return nil
	}
	e.done = true

	e.stdin.Close()
	if e.command.Process != nil {
		e.command.Process.Kill()
	}
	e.command.Wait() // The exit status is meaningless after a kill.
	return nil
}

// output returns ffmpeg's error output, formatted for appending to an error message.
//
// Only call this after the process has been waited on.
func (e *ffmpegEncoder) output() string {
	text := strings.TrimSpace(e.stderr.String())
	if text == "" {
		return ""
	}
	return ": " + text
}

// toRGB24 packs the pixels of an image into an RGB24 buffer of width*height*3 bytes.
func toRGB24(buffer []byte, img *image.RGBA) {
	bounds := img.Bounds()
	width := bounds.Dx()
	for y := 0; y < bounds.Dy(); y++ {
		source := img.Pix[y*img.Stride : y*img.Stride+width*4]
		target := buffer[y*width*3 : (y+1)*width*3]
		for x := 0; x < width; x++ {
			target[x*3+0] = source[x*4+0]
			target[x*3+1] = source[x*4+1]
			target[x*3+2] = source[x*4+2]
		}
	}
}

// newMP4VEncoder encodes MPEG-4 Part 2 directly into an MP4 file.
func newMP4VEncoder(ctx context.Context, filename string, width int, height int, fps float64) (encoder, error) {
	return startFFmpeg(ctx, width, height, fps,
		"-c:v", "mpeg4",
		"-q:v", "2",
		"-pix_fmt", "yuv420p",
		"-f", "mp4",
		filename,
	)
}
